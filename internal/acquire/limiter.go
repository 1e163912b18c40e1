package acquire

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter backs off on 429 and recovers on success, staying within
// [initial/4, initial].
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(rps float64) *adaptiveLimiter {
	if rps <= 0 {
		rps = 1
	}
	l := rate.Limit(rps)
	return &adaptiveLimiter{limiter: rate.NewLimiter(l, 1), initial: l, current: l}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 1.2
	if next > a.initial {
		next = a.initial
	}
	a.current = next
	a.limiter.SetLimit(next)
}

func (a *adaptiveLimiter) onThrottled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.current * 0.5
	if floor := a.initial / 4; next < floor {
		next = floor
	}
	a.current = next
	a.limiter.SetLimit(next)
	zap.L().Warn("acquire: throttled, reducing request rate", zap.Float64("rps", float64(next)))
}

func (a *adaptiveLimiter) limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
