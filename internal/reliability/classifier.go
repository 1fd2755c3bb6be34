package reliability

import (
	"context"
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRateLimited reports whether a backend answer signals a usage limit,
// either through the status code or the error_code field of the body.
func IsRateLimited(status int, errorCode string) bool {
	if status == 429 {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(errorCode)) {
	case "RATE_LIMITED", "RATE_LIMIT_EXCEEDED", "USAGE_LIMIT_EXCEEDED":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry calls fn up to attempts times, sleeping with ExponentialBackoff
// between failures. It returns the last error, or ctx.Err() when the
// context ends while waiting.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(ExponentialBackoff(attempt, base, cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
