package reddit

import (
	"context"
	"time"

	"subarchive/pkg/config"
	"subarchive/pkg/errors"
	"subarchive/pkg/logger"
	"subarchive/pkg/ratelimit"
	"subarchive/pkg/retry"
)

// Fetcher paces JSON requests and rides out 429 responses with a fixed
// pause. Every other failure is returned to the caller on the first attempt.
type Fetcher struct {
	client  *Client
	limiter ratelimit.Limiter
	retry   retry.Config
	logger  logger.Logger
}

// NewFetcher builds a fetcher from the rate limit settings
func NewFetcher(client *Client, limiter ratelimit.Limiter, cfg config.RateLimitConfig, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	f := &Fetcher{
		client:  client,
		limiter: limiter,
		logger:  log,
	}
	f.retry = retry.Config{
		MaxAttempts: cfg.MaxRetries,
		Backoff:     &retry.ConstantBackoff{Delay: cfg.RetryDelay},
		RetryIf:     retry.RateLimitOnly,
		Sleep:       retry.Wait,
		Logger:      log,
	}
	return f
}

// SetSleep replaces the pause between 429 retries
func (f *Fetcher) SetSleep(sleep retry.SleepFunc) {
	f.retry.Sleep = sleep
}

// Client returns the wrapped client
func (f *Fetcher) Client() *Client {
	return f.client
}

// GetJSON fetches url, retrying only on HTTP 429. Once attempts run out the
// error wraps retry.ErrExhausted.
func (f *Fetcher) GetJSON(ctx context.Context, url string) ([]byte, error) {
	cfg := f.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.client.recorder.RateLimited()
		logger.LogRateLimit(f.logger, url, attempt, delay.Seconds())
	}

	body, err := retry.DoWithResult(ctx, func(ctx context.Context, attempt int) ([]byte, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return f.client.GetJSON(ctx, url)
	}, &cfg)
	if err != nil {
		if errors.Is(err, errors.ErrorTypeRateLimit) {
			f.logger.ErrorWithFields("stop retrying", map[string]interface{}{
				"url":      url,
				"attempts": cfg.MaxAttempts,
			})
		}
		return nil, err
	}
	return body, nil
}

// GetHTML fetches an HTML page through the limiter
func (f *Fetcher) GetHTML(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return f.client.GetHTML(ctx, url)
}
