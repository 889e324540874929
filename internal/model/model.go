// Package model defines the core domain types shared across the league engine.
// All prices, returns and prize amounts use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a price-feed symbol drawn from the configured whitelist.
type Asset string

// Allocation is one weighted leg of a basket. Weight is a percentage of
// total exposure in [0, 100].
type Allocation struct {
	Asset  Asset           `json:"asset"`
	Weight decimal.Decimal `json:"weight"`
}

// Basket is a participant's ordered set of allocations for one period.
type Basket []Allocation

// Assets returns the basket's assets in allocation order.
func (b Basket) Assets() []Asset {
	assets := make([]Asset, 0, len(b))
	for _, a := range b {
		assets = append(assets, a.Asset)
	}
	return assets
}

// Snapshot is a set of asset prices observed at one instant.
type Snapshot struct {
	Prices    map[Asset]decimal.Decimal `json:"prices"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Price returns the price of asset and whether the snapshot carries it.
func (s Snapshot) Price(asset Asset) (decimal.Decimal, bool) {
	p, ok := s.Prices[asset]
	return p, ok
}

// Subset returns a snapshot restricted to the given assets. Assets the
// snapshot does not carry are omitted.
func (s Snapshot) Subset(assets []Asset) Snapshot {
	out := Snapshot{
		Prices:    make(map[Asset]decimal.Decimal, len(assets)),
		Timestamp: s.Timestamp,
	}
	for _, a := range assets {
		if p, ok := s.Prices[a]; ok {
			out.Prices[a] = p
		}
	}
	return out
}

// Submission is a participant's basket for one period together with the
// start prices frozen when it was accepted. Keyed by (Participant, PeriodID).
type Submission struct {
	ID          string    `json:"id" db:"id"`
	Participant string    `json:"participant" db:"participant"`
	PeriodID    string    `json:"period_id" db:"period_id"`
	Basket      Basket    `json:"basket" db:"basket"`
	StartPrices Snapshot  `json:"start_prices" db:"start_prices"`
	AcceptedAt  time.Time `json:"accepted_at" db:"accepted_at"`
}

// PeriodStatus is the lifecycle state of a period relative to a clock reading.
type PeriodStatus string

const (
	StatusUpcoming  PeriodStatus = "upcoming"
	StatusActive    PeriodStatus = "active"
	StatusCompleted PeriodStatus = "completed"
)

// Period is one gameweek: a half-open window [Start, End).
type Period struct {
	ID             string          `json:"id"`
	Number         int64           `json:"number"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	PrizePool      decimal.Decimal `json:"prize_pool"`
	PayoutFraction decimal.Decimal `json:"payout_fraction"`
}

// Status reports the period's state at now.
func (p Period) Status(now time.Time) PeriodStatus {
	switch {
	case now.Before(p.Start):
		return StatusUpcoming
	case now.Before(p.End):
		return StatusActive
	default:
		return StatusCompleted
	}
}

// LeaderboardRow is one ranked submission.
type LeaderboardRow struct {
	Rank        int             `json:"rank"`
	Participant string          `json:"participant"`
	Basket      Basket          `json:"basket"`
	ReturnPct   decimal.Decimal `json:"return_pct"`
	Prize       decimal.Decimal `json:"prize"`
	AcceptedAt  time.Time       `json:"accepted_at"`
}

// Leaderboard is the ranked view of a period. It is derived on demand from
// the stored submissions and one price snapshot; it is never ground truth.
type Leaderboard struct {
	Period               Period           `json:"period"`
	Status               PeriodStatus     `json:"status"`
	Rows                 []LeaderboardRow `json:"rows"`
	TotalParticipants    int              `json:"total_participants"`
	WinnerCount          int              `json:"winner_count"`
	Distributed          decimal.Decimal  `json:"distributed"`
	UnallocatedRemainder decimal.Decimal  `json:"unallocated_remainder"`
	EvaluatedAt          time.Time        `json:"evaluated_at"`
}

// ParticipantStats aggregates a participant's results across completed periods.
type ParticipantStats struct {
	Participant     string          `json:"participant"`
	PeriodsEntered  int             `json:"periods_entered"`
	PeriodsComplete int             `json:"periods_completed"`
	Wins            int             `json:"wins"`
	PrizeFinishes   int             `json:"prize_finishes"`
	BestRank        int             `json:"best_rank,omitempty"`
	BestReturnPct   decimal.Decimal `json:"best_return_pct"`
	AvgReturnPct    decimal.Decimal `json:"avg_return_pct"`
	TotalPrize      decimal.Decimal `json:"total_prize"`
}
