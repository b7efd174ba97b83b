package fetch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter bounds outbound traffic to the resolution service two ways: a
// token bucket caps the steady request rate, and a slot semaphore caps the
// number of simultaneously open connections. The two are independent: a
// full bucket must not translate into a burst of parallel sockets.
//
// One Limiter is shared by every fetch in a run. It is constructed once and
// injected, never a package global.
type Limiter struct {
	tokens *rate.Limiter
	slots  chan struct{}
}

// NewLimiter creates a limiter allowing perSecond requests per second with
// the given burst capacity, and at most maxInflight concurrent requests.
func NewLimiter(perSecond float64, burst, maxInflight int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Limiter{
		tokens: rate.NewLimiter(rate.Limit(perSecond), burst),
		slots:  make(chan struct{}, maxInflight),
	}
}

// Acquire blocks until both a rate token and an in-flight slot are held, or
// the context expires. The returned release function must be called exactly
// once when the request completes.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.tokens.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimitTimeout, err)
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRateLimitTimeout, ctx.Err())
	}

	return func() { <-l.slots }, nil
}
