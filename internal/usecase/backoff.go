package usecase

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/user/corpus-trainer/pkg/utils"
	"golang.org/x/time/rate"
)

// backoffDelay returns the wait before retry number retry (1-based):
// initial doubled per retry, capped at maxDelay, then scaled by 1 +/- jitterFactor
// using r in [0, 1).
func backoffDelay(retry int, initial, maxDelay time.Duration, jitterFactor, r float64) time.Duration {
	if retry < 1 || initial <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < retry && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	if jitterFactor > 0 {
		d = time.Duration(float64(d) * (1 + (2*r-1)*jitterFactor))
	}
	return d
}

func randomUnit() float64 {
	return rand.Float64()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// hostLimiters spaces attempts against the same host.
type hostLimiters struct {
	perSecond float64
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

func newHostLimiters(perSecond float64) *hostLimiters {
	return &hostLimiters{perSecond: perSecond, limiters: make(map[string]*rate.Limiter)}
}

func (h *hostLimiters) wait(ctx context.Context, rawURL string) error {
	if h.perSecond <= 0 {
		return nil
	}
	host := utils.Hostname(rawURL)

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.perSecond), 1)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
