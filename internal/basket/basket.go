// Package basket validates participant baskets against the league rules:
// a fixed number of allocations over whitelisted assets, no duplicates,
// weights in [0, 100] summing to 100 within a tolerance.
package basket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/model"
)

var (
	// ErrInvalidBasket is returned for any basket that breaks the league rules.
	ErrInvalidBasket = errors.New("basket: invalid basket")

	// Tolerance is the allowed deviation of the weight sum from 100.
	Tolerance = decimal.NewFromFloat(0.01)

	hundred = decimal.NewFromInt(100)
)

// Validator checks baskets against a whitelist and a fixed cardinality.
type Validator struct {
	size    int
	allowed map[model.Asset]bool
	assets  []model.Asset
}

// NewValidator creates a validator for baskets of exactly size allocations
// drawn from assets. Symbols are normalised to upper case.
func NewValidator(assets []model.Asset, size int) (*Validator, error) {
	if size < 1 {
		return nil, fmt.Errorf("basket: size must be positive, got %d", size)
	}
	allowed := make(map[model.Asset]bool, len(assets))
	var list []model.Asset
	for _, a := range assets {
		a = Normalize(a)
		if a == "" || allowed[a] {
			continue
		}
		allowed[a] = true
		list = append(list, a)
	}
	if len(list) < size {
		return nil, fmt.Errorf("basket: whitelist has %d assets, need at least %d", len(list), size)
	}
	return &Validator{size: size, allowed: allowed, assets: list}, nil
}

// Size returns the required number of allocations.
func (v *Validator) Size() int { return v.size }

// Assets returns the whitelist in configuration order.
func (v *Validator) Assets() []model.Asset {
	out := make([]model.Asset, len(v.assets))
	copy(out, v.assets)
	return out
}

// Normalize trims and upper-cases an asset symbol.
func Normalize(a model.Asset) model.Asset {
	return model.Asset(strings.ToUpper(strings.TrimSpace(string(a))))
}

// Validate returns a normalised copy of b, or an error wrapping
// ErrInvalidBasket describing the first violated rule.
func (v *Validator) Validate(b model.Basket) (model.Basket, error) {
	if len(b) != v.size {
		return nil, fmt.Errorf("%w: expected %d allocations, got %d", ErrInvalidBasket, v.size, len(b))
	}

	out := make(model.Basket, 0, len(b))
	seen := make(map[model.Asset]bool, len(b))
	sum := decimal.Zero

	for _, alloc := range b {
		asset := Normalize(alloc.Asset)
		if !v.allowed[asset] {
			return nil, fmt.Errorf("%w: asset %q is not in the whitelist", ErrInvalidBasket, alloc.Asset)
		}
		if seen[asset] {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidBasket, asset)
		}
		seen[asset] = true

		if alloc.Weight.IsNegative() || alloc.Weight.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: weight %s for %s outside [0, 100]", ErrInvalidBasket, alloc.Weight, asset)
		}
		sum = sum.Add(alloc.Weight)
		out = append(out, model.Allocation{Asset: asset, Weight: alloc.Weight})
	}

	if sum.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return nil, fmt.Errorf("%w: weights sum to %s, expected 100", ErrInvalidBasket, sum)
	}
	return out, nil
}
