package providers

import (
	"context"
	"math/rand"
	"net/http"
	"time"
)

const (
	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
	maxDelay    = 8 * time.Second
)

// retryDo runs fn up to maxAttempts times with jittered exponential backoff.
// fn reports whether its error is worth retrying.
func retryDo(ctx context.Context, fn func() (retryable bool, err error)) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(delay / 2)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return lastErr
}

// retryableStatus reports whether an HTTP status is transient.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
