package price

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/model"
)

// GuardConfig bounds calls to an upstream provider.
type GuardConfig struct {
	// Timeout caps every call. Zero means 5s.
	Timeout time.Duration

	// MaxFailures consecutive failures open the breaker. Zero means 5.
	MaxFailures uint32

	// OpenTimeout is how long the breaker stays open before a trial call.
	// Zero means 30s.
	OpenTimeout time.Duration
}

// Guarded wraps a provider with a timeout, a circuit breaker and a coverage
// check. Every failure it returns matches ErrPriceUnavailable. It performs no
// retries; retry policy belongs to the caller.
type Guarded struct {
	next    Provider
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewGuarded wraps next.
func NewGuarded(name string, next Provider, cfg GuardConfig) *Guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("price breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.PriceBreakerState.Set(float64(to))
		},
	}

	return &Guarded{
		next:    next,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// GetPrices fetches prices for exactly the requested assets.
func (g *Guarded) GetPrices(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error) {
	assets = UniqueAssets(assets)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.cb.Execute(func() (interface{}, error) {
		snap, err := g.next.GetPrices(ctx, assets, at)
		if err != nil {
			return nil, err
		}
		if err := Covers(snap, assets); err != nil {
			return nil, err
		}
		return snap, nil
	})
	metrics.PriceFetchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			outcome = "open"
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		}
		metrics.PriceFetches.WithLabelValues(outcome).Inc()
		slog.Warn("price fetch failed", "assets", assets, "historical", at != nil, "outcome", outcome, "err", err)
		return model.Snapshot{}, Unavailable(err)
	}

	metrics.PriceFetches.WithLabelValues("ok").Inc()
	return res.(model.Snapshot).Subset(assets), nil
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}
