package classifier

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// adaptiveLimiter paces AI calls. Successful calls raise the rate by 20% up
// to twice the configured rate; throttled calls halve it down to a quarter.
type adaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	current rate.Limit
}

func newAdaptiveLimiter(perSecond float64, burst int) *adaptiveLimiter {
	if perSecond <= 0 {
		perSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(perSecond)
	return &adaptiveLimiter{limiter: rate.NewLimiter(r, burst), base: r, current: r}
}

func (a *adaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *adaptiveLimiter) onSuccess() {
	a.scale(1.2)
}

func (a *adaptiveLimiter) onRateLimit() {
	r := a.scale(0.5)
	zap.L().Warn("classifier: throttled, lowering request rate",
		zap.Float64("rate", float64(r)),
	)
}

// scale multiplies the current rate by f within [base/4, base*2] and
// returns the new rate.
func (a *adaptiveLimiter) scale(f float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := min(max(a.current*rate.Limit(f), a.base/4), a.base*2)
	a.current = r
	a.limiter.SetLimit(r)
	return r
}

// Limit returns the current rate.
func (a *adaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
