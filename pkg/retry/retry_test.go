package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	errs "subarchive/pkg/errors"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{9, 1 * time.Second},
	}

	for _, test := range tests {
		if got := backoff.NextDelay(test.attempt); got != test.expected {
			t.Errorf("attempt %d: expected %v, got %v", test.attempt, test.expected, got)
		}
	}
}

func TestConstantBackoff(t *testing.T) {
	b := &ConstantBackoff{Delay: time.Minute}
	for attempt := 1; attempt <= 4; attempt++ {
		if got := b.NextDelay(attempt); got != time.Minute {
			t.Errorf("attempt %d: expected 1m, got %v", attempt, got)
		}
	}
}

func TestDoSucceedsAfterRateLimit(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errs.FromStatus(http.StatusTooManyRequests, "")
		}
		return nil
	}, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 60 * time.Second},
		RetryIf:     RateLimitOnly,
		Sleep:       rec.sleep,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(rec.calls) != 2 || rec.calls[0] != 60*time.Second {
		t.Errorf("expected two 60s pauses, got %v", rec.calls)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errs.FromStatus(http.StatusTooManyRequests, "")
	}, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 60 * time.Second},
		RetryIf:     RateLimitOnly,
		Sleep:       rec.sleep,
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errs.Is(err, errs.ErrorTypeRateLimit) {
		t.Errorf("expected the last 429 to stay visible, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 calls, got %d", calls)
	}
	if len(rec.calls) != 4 {
		t.Errorf("expected 4 pauses, got %d", len(rec.calls))
	}
}

func TestDoDoesNotRetryOtherStatuses(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errs.FromStatus(http.StatusNotFound, "")
	}, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Second},
		RetryIf:     RateLimitOnly,
		Sleep:       rec.sleep,
	})

	if !errs.Is(err, errs.ErrorTypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 1 || len(rec.calls) != 0 {
		t.Errorf("expected a single call and no pauses, got %d calls %d pauses", calls, len(rec.calls))
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context, attempt int) error {
		return errs.FromStatus(http.StatusTooManyRequests, "")
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Hour},
		RetryIf:     RateLimitOnly,
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	rec := &sleepRecorder{}
	got, err := DoWithResult(context.Background(), func(ctx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errs.New(errs.ErrorTypeNetwork, 0, "reset")
		}
		return "payload", nil
	}, &Config{MaxAttempts: 2, Backoff: &ConstantBackoff{}, Sleep: rec.sleep})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	if DefaultRetryIf(nil) {
		t.Error("nil must not be retried")
	}
	if DefaultRetryIf(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if !DefaultRetryIf(errs.New(errs.ErrorTypeServerError, 502, "")) {
		t.Error("server errors should be retried")
	}
	if DefaultRetryIf(errs.New(errs.ErrorTypeAuth, 401, "")) {
		t.Error("auth errors should not be retried")
	}
}

func TestDoDefaultsNilBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errs.FromStatus(http.StatusTooManyRequests, "")
		}
		return nil
	}, &Config{MaxAttempts: 3, RetryIf: RateLimitOnly, Sleep: rec.sleep})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(rec.calls))
	}
	for i, d := range rec.calls {
		if d <= 0 || d > 30*time.Second {
			t.Errorf("pause %d out of default backoff range: %v", i+1, d)
		}
	}
}
