package channels

import (
	"context"

	"golang.org/x/time/rate"
)

// SendLimiter paces outbound sends to one channel's API.
type SendLimiter struct {
	limiter *rate.Limiter
}

// NewSendLimiter allows perSec sends per second with a small burst. A zero
// or negative rate falls back to 10/s.
func NewSendLimiter(perSec float64) *SendLimiter {
	if perSec <= 0 {
		perSec = 10
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &SendLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Wait blocks until a send slot is available or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
