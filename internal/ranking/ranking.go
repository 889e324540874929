// Package ranking derives a period's leaderboard from its submissions and a
// single price snapshot. Leaderboards are computed on demand and never
// stored.
package ranking

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/price"
	"github.com/portfolio-league/league-engine/internal/prize"
	"github.com/portfolio-league/league-engine/internal/scoring"
)

// Source lists the submissions of a period. store.Store satisfies it.
type Source interface {
	ListSubmissions(ctx context.Context, periodID string) ([]model.Submission, error)
}

// Engine ranks periods.
type Engine struct {
	source Source
	clock  *period.Clock
	prices price.Provider
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a ranking engine.
func New(source Source, clock *period.Clock, prices price.Provider, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		clock:  clock,
		prices: prices,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank computes the leaderboard of periodID.
//
// Returns are measured against the latest prices while the period is
// active and against the prices in effect at the period end once it has
// completed, so final standings stop moving. One price fetch covers every
// asset any submission holds; a period without submissions fetches nothing.
// Rows are ordered by return (highest first), then earlier acceptance, then
// participant ID, and ranks run 1..N without gaps.
func (e *Engine) Rank(ctx context.Context, periodID string) (*model.Leaderboard, error) {
	start := time.Now()
	now := e.now()

	p, err := e.clock.Lookup(periodID, now)
	if err != nil {
		return nil, err
	}
	status := p.Status(now)

	subs, err := e.source.ListSubmissions(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions for %s: %w", p.ID, err)
	}

	alloc, err := prize.Allocate(len(subs), p.PrizePool, p.PayoutFraction)
	if err != nil {
		return nil, err
	}

	board := &model.Leaderboard{
		Period:               p,
		Status:               status,
		Rows:                 make([]model.LeaderboardRow, 0, len(subs)),
		TotalParticipants:    len(subs),
		WinnerCount:          alloc.WinnerCount,
		Distributed:          alloc.Distributed,
		UnallocatedRemainder: alloc.UnallocatedRemainder,
		EvaluatedAt:          now,
	}
	if len(subs) == 0 {
		return board, nil
	}

	var at *time.Time
	if status == model.StatusCompleted {
		end := p.End
		at = &end
	}

	snap, err := e.prices.GetPrices(ctx, heldAssets(subs), at)
	if err != nil {
		return nil, price.Unavailable(err)
	}
	if !snap.Timestamp.IsZero() {
		board.EvaluatedAt = snap.Timestamp
	}

	for _, sub := range subs {
		r, err := scoring.ComputeReturn(sub.Basket, sub.StartPrices, snap)
		if err != nil {
			return nil, fmt.Errorf("score %s in %s: %w", sub.Participant, p.ID, err)
		}
		board.Rows = append(board.Rows, model.LeaderboardRow{
			Participant: sub.Participant,
			Basket:      sub.Basket,
			ReturnPct:   r,
			AcceptedAt:  sub.AcceptedAt,
		})
	}

	slices.SortFunc(board.Rows, compareRows)
	for i := range board.Rows {
		board.Rows[i].Rank = i + 1
		board.Rows[i].Prize = alloc.PrizeFor(i + 1)
	}

	metrics.RankLatency.Observe(time.Since(start).Seconds())
	metrics.RankedParticipants.Set(float64(len(board.Rows)))
	slog.Debug("leaderboard computed",
		"period", p.ID,
		"status", status,
		"participants", len(board.Rows),
		"winners", alloc.WinnerCount,
		"evaluated_at", board.EvaluatedAt,
	)
	return board, nil
}

// compareRows orders by return descending, then acceptance ascending, then
// participant ascending.
func compareRows(a, b model.LeaderboardRow) int {
	if c := b.ReturnPct.Cmp(a.ReturnPct); c != 0 {
		return c
	}
	if c := a.AcceptedAt.Compare(b.AcceptedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Participant, b.Participant)
}

// heldAssets returns the union of assets with non-zero weight across subs.
// Zero-weight legs are never scored, so their prices are not requested.
func heldAssets(subs []model.Submission) []model.Asset {
	var assets []model.Asset
	for _, sub := range subs {
		for _, alloc := range sub.Basket {
			if !alloc.Weight.IsZero() {
				assets = append(assets, alloc.Asset)
			}
		}
	}
	return price.UniqueAssets(assets)
}
