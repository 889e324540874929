package price

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/model"
)

type point struct {
	at    time.Time
	price decimal.Decimal
}

// Table is an in-memory price history. It backs development mode when no
// oracle is configured and stands in for the oracle in tests.
type Table struct {
	mu     sync.RWMutex
	series map[model.Asset][]point
}

// NewTable creates an empty price table.
func NewTable() *Table {
	return &Table{series: make(map[model.Asset][]point)}
}

// Set records price for asset effective from at.
func (t *Table) Set(asset model.Asset, at time.Time, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pts := append(t.series[asset], point{at: at.UTC(), price: price})
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	t.series[asset] = pts
}

// GetPrices returns, per asset, the latest price at or before at (or the
// latest overall when at is nil).
func (t *Table) GetPrices(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, Unavailable(err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := model.Snapshot{Prices: make(map[model.Asset]decimal.Decimal, len(assets))}
	var latest time.Time

	for _, a := range assets {
		pts := t.series[a]
		idx := len(pts) - 1
		if at != nil {
			idx = sort.Search(len(pts), func(i int) bool { return pts[i].at.After(*at) }) - 1
		}
		if idx < 0 {
			return model.Snapshot{}, fmt.Errorf("%w: no price for %s", ErrPriceUnavailable, a)
		}
		snap.Prices[a] = pts[idx].price
		if pts[idx].at.After(latest) {
			latest = pts[idx].at
		}
	}

	if at != nil {
		snap.Timestamp = at.UTC()
	} else {
		snap.Timestamp = latest
	}
	return snap, nil
}
