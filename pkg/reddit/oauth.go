package reddit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"subarchive/pkg/errors"
	"subarchive/pkg/retry"
)

// AccessTokenURL is the token endpoint for script applications
const AccessTokenURL = WWWBaseURL + "/api/v1/access_token"

// expiryMargin refreshes tokens a little before Reddit expires them
const expiryMargin = time.Minute

// TokenSource hands out bearer tokens for the OAuth host
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// PasswordGrant obtains tokens for a script app using the resource owner
// password grant and caches them until shortly before expiry.
type PasswordGrant struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	TokenURL     string

	httpClient *http.Client
	retry      *retry.Config
	now        func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewPasswordGrant creates a token source. httpClient may be nil.
func NewPasswordGrant(clientID, clientSecret, username, password, userAgent string, httpClient *http.Client) *PasswordGrant {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg := retry.DefaultConfig()
	return &PasswordGrant{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     username,
		Password:     password,
		UserAgent:    userAgent,
		TokenURL:     AccessTokenURL,
		httpClient:   httpClient,
		retry:        cfg,
		now:          time.Now,
	}
}

// Token returns a cached token or fetches a new one
func (p *PasswordGrant) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiry.Add(-expiryMargin)) {
		return p.token, nil
	}

	type grant struct {
		token   string
		expires time.Duration
	}
	g, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (grant, error) {
		token, expires, err := p.fetch(ctx)
		return grant{token, expires}, err
	}, p.retry)
	if err != nil {
		return "", err
	}

	p.token = g.token
	p.expiry = p.now().Add(g.expires)
	return p.token, nil
}

func (p *PasswordGrant) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", p.Username)
	form.Set("password", p.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(p.ClientID, p.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, &errors.Error{Type: errors.ErrorTypeNetwork, Message: err.Error(), URL: p.TokenURL}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, errors.FromStatus(resp.StatusCode, p.TokenURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &errors.Error{Type: errors.ErrorTypeNetwork, Message: err.Error(), URL: p.TokenURL}
	}

	res := gjson.ParseBytes(body)
	if msg := res.Get("error").String(); msg != "" {
		return "", 0, errors.New(errors.ErrorTypeAuth, resp.StatusCode, fmt.Sprintf("token request rejected: %s", msg))
	}
	token := res.Get("access_token").String()
	if token == "" {
		return "", 0, errors.New(errors.ErrorTypeParsing, resp.StatusCode, "token response has no access_token")
	}

	expires := time.Duration(res.Get("expires_in").Int()) * time.Second
	if expires <= 0 {
		expires = time.Hour
	}
	return token, expires, nil
}
