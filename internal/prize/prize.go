// Package prize splits a period's prize pool across the top-ranked
// participants.
//
// The winner set is the top ceil(N · fraction) ranks. Within it rank r
// receives weight (W − r + 1), so shares fall linearly from W at rank 1 to 1
// at rank W, and the share of rank r is weight(r) / (W(W+1)/2). Each prize is
// floored to a whole unit; the floor dust is reported as UnallocatedRemainder
// and never redistributed here.
package prize

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidParameters is returned for a negative pool, a negative
	// participant count or a payout fraction outside [0, 1].
	ErrInvalidParameters = errors.New("prize: invalid allocation parameters")
)

// Allocation is the per-rank payout for one leaderboard.
type Allocation struct {
	// Prizes[i] is the payout for rank i+1. Only winners are present.
	Prizes []decimal.Decimal `json:"prizes"`

	WinnerCount          int             `json:"winner_count"`
	Pool                 decimal.Decimal `json:"pool"`
	Distributed          decimal.Decimal `json:"distributed"`
	UnallocatedRemainder decimal.Decimal `json:"unallocated_remainder"`
}

// PrizeFor returns the payout for a 1-based rank; ranks outside the winner
// set get zero.
func (a *Allocation) PrizeFor(rank int) decimal.Decimal {
	if rank < 1 || rank > len(a.Prizes) {
		return decimal.Zero
	}
	return a.Prizes[rank-1]
}

// WinnerCount returns clamp(ceil(participants · fraction), 0, participants).
func WinnerCount(participants int, fraction decimal.Decimal) int {
	if participants <= 0 || !fraction.IsPositive() {
		return 0
	}
	w := decimal.NewFromInt(int64(participants)).Mul(fraction).Ceil().IntPart()
	if w > int64(participants) {
		return participants
	}
	return int(w)
}

// Allocate computes the payouts for a leaderboard of the given size.
func Allocate(participants int, pool, fraction decimal.Decimal) (*Allocation, error) {
	if participants < 0 {
		return nil, fmt.Errorf("%w: participants=%d", ErrInvalidParameters, participants)
	}
	if pool.IsNegative() {
		return nil, fmt.Errorf("%w: pool=%s", ErrInvalidParameters, pool)
	}
	if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: payout fraction=%s", ErrInvalidParameters, fraction)
	}

	winners := WinnerCount(participants, fraction)
	alloc := &Allocation{
		Prizes:               make([]decimal.Decimal, 0, winners),
		WinnerCount:          winners,
		Pool:                 pool,
		Distributed:          decimal.Zero,
		UnallocatedRemainder: pool,
	}
	if winners == 0 {
		return alloc, nil
	}

	w := int64(winners)
	totalWeight := decimal.NewFromInt(w * (w + 1) / 2)

	for rank := int64(1); rank <= w; rank++ {
		weight := decimal.NewFromInt(w - rank + 1)
		// Integer quotient of weight·pool / totalWeight: exact floor for a
		// non-negative pool, with no intermediate rounding of the share.
		prize, _ := pool.Mul(weight).QuoRem(totalWeight, 0)
		alloc.Prizes = append(alloc.Prizes, prize)
		alloc.Distributed = alloc.Distributed.Add(prize)
	}
	alloc.UnallocatedRemainder = pool.Sub(alloc.Distributed)

	return alloc, nil
}
