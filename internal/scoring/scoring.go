// Package scoring computes the aggregate return of a basket between two
// price snapshots.
//
// Each allocation is treated as an independent sub-position re-based to its
// own start price, so assets with very different absolute price scales are
// comparable:
//
//	return% = Σ (weight/100) · (end − start)/start · 100
//
// All arithmetic uses shopspring/decimal, never float64.
package scoring

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/model"
)

var (
	// ErrMissingPrice is returned when a snapshot lacks a priced asset.
	ErrMissingPrice = errors.New("scoring: missing price")

	// ErrInvalidPrice is returned when a start price is not positive.
	ErrInvalidPrice = errors.New("scoring: start price must be positive")

	// ReturnScale is the number of decimal places kept in a return percentage.
	ReturnScale int32 = 8
)

// AssetReturn returns the fractional price change (end − start)/start.
func AssetReturn(start, end decimal.Decimal) (decimal.Decimal, error) {
	if !start.IsPositive() {
		return decimal.Zero, ErrInvalidPrice
	}
	return end.Sub(start).Div(start), nil
}

// ComputeReturn returns the basket's aggregate return in percent.
// Allocations with zero weight contribute nothing and are not looked up.
func ComputeReturn(basket model.Basket, start, end model.Snapshot) (decimal.Decimal, error) {
	total := decimal.Zero

	for _, alloc := range basket {
		if alloc.Weight.IsZero() {
			continue
		}

		startPrice, ok := start.Price(alloc.Asset)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: start snapshot has no %s", ErrMissingPrice, alloc.Asset)
		}
		endPrice, ok := end.Price(alloc.Asset)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: end snapshot has no %s", ErrMissingPrice, alloc.Asset)
		}

		r, err := AssetReturn(startPrice, endPrice)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s start=%s", err, alloc.Asset, startPrice)
		}

		// (weight/100) · r · 100 reduces to weight · r.
		total = total.Add(alloc.Weight.Mul(r))
	}

	return total.Round(ReturnScale), nil
}
