package league

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/portfolio-league/league-engine/internal/metrics"
)

// SubmitLimiter applies a token bucket per participant to submissions.
// A nil *SubmitLimiter allows everything.
type SubmitLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewSubmitLimiter creates a limiter allowing rps sustained submissions per
// participant with the given burst. It returns nil when rps is not positive.
func NewSubmitLimiter(rps float64, burst int) *SubmitLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether participant may submit now and consumes a token.
func (l *SubmitLimiter) Allow(participant string) bool {
	if l == nil {
		return true
	}
	if l.limiter(participant).Allow() {
		return true
	}
	metrics.SubmissionsRateLimited.Inc()
	return false
}

func (l *SubmitLimiter) limiter(participant string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[participant]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[participant]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.rps, l.burst)
	l.limiters[participant] = lim
	return lim
}
