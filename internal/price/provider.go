// Package price defines the price-feed contract the engine depends on and
// the providers behind it: an on-chain Chainlink reader, an in-memory table,
// and a guard that bounds every call with a timeout and a circuit breaker.
package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-league/league-engine/internal/model"
)

var (
	// ErrPriceUnavailable is returned when any requested asset cannot be
	// priced, including on timeout. Callers may retry with backoff; the
	// engine never substitutes a fallback price.
	ErrPriceUnavailable = errors.New("price: unavailable")
)

// Provider returns prices for a set of assets. A nil at requests the latest
// known prices; otherwise the prices in effect at that instant.
type Provider interface {
	GetPrices(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error)

// GetPrices calls f.
func (f ProviderFunc) GetPrices(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error) {
	return f(ctx, assets, at)
}

// Unavailable wraps err so that it matches ErrPriceUnavailable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrPriceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
}

// Covers returns an error unless snap holds a positive price for every asset.
func Covers(snap model.Snapshot, assets []model.Asset) error {
	for _, a := range assets {
		p, ok := snap.Price(a)
		if !ok {
			return fmt.Errorf("%w: no price for %s", ErrPriceUnavailable, a)
		}
		if !p.IsPositive() {
			return fmt.Errorf("%w: non-positive price %s for %s", ErrPriceUnavailable, p, a)
		}
	}
	return nil
}

// UniqueAssets returns assets without duplicates, preserving first-seen order.
func UniqueAssets(assets []model.Asset) []model.Asset {
	seen := make(map[model.Asset]bool, len(assets))
	out := make([]model.Asset, 0, len(assets))
	for _, a := range assets {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
