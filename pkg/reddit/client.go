// Package reddit talks to the public Reddit JSON and HTML endpoints.
package reddit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"subarchive/pkg/config"
	"subarchive/pkg/errors"
	"subarchive/pkg/logger"
)

// Recorder receives per-request outcomes. metrics.Metrics satisfies it.
type Recorder interface {
	JSONRequest(status int)
	RateLimited()
}

type nopRecorder struct{}

func (nopRecorder) JSONRequest(int) {}
func (nopRecorder) RateLimited()    {}

// Client represents a Reddit HTTP client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	tokens     TokenSource
	recorder   Recorder
	logger     logger.Logger
}

// NewClient creates a client that identifies itself with userAgent
func NewClient(timeout time.Duration, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent": userAgent,
		},
		recorder: nopRecorder{},
		logger:   log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTokenSource switches JSON requests to the OAuth host with a bearer token
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// SetRecorder attaches a request outcome recorder
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// HTTPClient exposes the underlying transport client
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			URL:     req.URL.String(),
		}
	}

	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, float64(duration.Microseconds())/1000)
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			URL:     url,
		}
	}
	return req, nil
}

// Get performs a GET request and hands back the response whatever its
// status. Callers own the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

// GetJSON fetches url and returns the raw body once it is known to be JSON.
// Non-200 statuses come back as typed errors.
func (c *Client) GetJSON(ctx context.Context, url string) ([]byte, error) {
	if c.tokens != nil {
		url = oauthURL(url)
	}
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "bearer "+token)
	}

	resp, err := c.doRequest(req)
	if err != nil {
		c.recorder.JSONRequest(0)
		return nil, err
	}
	defer resp.Body.Close()

	c.recorder.JSONRequest(resp.StatusCode)
	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
			URL:     url,
		}
	}

	if !gjson.ValidBytes(body) {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"body_preview": bodyPreview,
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "response is not valid JSON",
			Code:    resp.StatusCode,
			URL:     url,
		}
	}

	return body, nil
}

// GetHTML fetches an HTML page and returns its body
func (c *Client) GetHTML(ctx context.Context, url string) (string, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
			URL:     url,
		}
	}
	return string(body), nil
}

// checkResponseStatus turns a non-200 response into a typed error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	err := errors.FromStatus(resp.StatusCode, url)

	c.logger.WarnWithFields("error code", map[string]interface{}{
		"status": resp.StatusCode,
		"url":    url,
		"type":   string(err.Type),
	})
	return err
}
