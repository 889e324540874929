package ranking

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/price"
	"github.com/portfolio-league/league-engine/internal/scoring"
	"github.com/portfolio-league/league-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	anchor = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC) // Monday
	week   = 7 * 24 * time.Hour
	midGW1 = anchor.Add(3 * 24 * time.Hour)
)

type fixture struct {
	engine  *Engine
	store   *store.MemoryStore
	table   *price.Table
	fetches atomic.Int32
	lastAt  atomic.Pointer[time.Time]
	now     time.Time
}

func newFixture(t *testing.T, pool, fraction float64) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore(), table: price.NewTable(), now: midGW1}

	clock, err := period.NewClock(anchor, week, d(pool), d(fraction))
	require.NoError(t, err)

	counting := price.ProviderFunc(func(ctx context.Context, assets []model.Asset, at *time.Time) (model.Snapshot, error) {
		f.fetches.Add(1)
		f.lastAt.Store(at)
		return f.table.GetPrices(ctx, assets, at)
	})
	f.engine = New(f.store, clock, counting, WithNow(func() time.Time { return f.now }))
	return f
}

func (f *fixture) submit(t *testing.T, participant string, acceptedAt time.Time, basket model.Basket, start map[model.Asset]float64) {
	t.Helper()
	snap := model.Snapshot{Prices: make(map[model.Asset]decimal.Decimal), Timestamp: acceptedAt}
	for a, p := range start {
		snap.Prices[a] = d(p)
	}
	require.NoError(t, f.store.InsertSubmission(context.Background(), &model.Submission{
		ID:          participant,
		Participant: participant,
		PeriodID:    "gw-1",
		Basket:      basket,
		StartPrices: snap,
		AcceptedAt:  acceptedAt,
	}))
}

func all(asset model.Asset) model.Basket {
	return model.Basket{{Asset: asset, Weight: d(100)}}
}

func TestRank_OrderAndPrizes(t *testing.T) {
	f := newFixture(t, 1000, 0.5)
	f.table.Set("BTC", anchor, d(110))
	f.table.Set("ETH", anchor, d(90))
	f.table.Set("SOL", anchor, d(105))
	f.table.Set("USDC", anchor, d(1))

	start := map[model.Asset]float64{"BTC": 100, "ETH": 100, "SOL": 100, "USDC": 1}
	f.submit(t, "alice", anchor.Add(time.Hour), all("ETH"), start)   // -10
	f.submit(t, "bob", anchor.Add(2*time.Hour), all("BTC"), start)   // +10
	f.submit(t, "carol", anchor.Add(3*time.Hour), all("SOL"), start) // +5
	f.submit(t, "dave", anchor.Add(4*time.Hour), all("USDC"), start) // 0

	board, err := f.engine.Rank(context.Background(), "current")
	require.NoError(t, err)

	require.Len(t, board.Rows, 4)
	var order []string
	for i, row := range board.Rows {
		assert.Equal(t, i+1, row.Rank)
		order = append(order, row.Participant)
	}
	assert.Equal(t, []string{"bob", "carol", "dave", "alice"}, order)
	assert.True(t, board.Rows[0].ReturnPct.Equal(d(10)))
	assert.True(t, board.Rows[3].ReturnPct.Equal(d(-10)))

	// 4 participants, fraction 0.5 → 2 winners, weights 2:1 of 1000.
	assert.Equal(t, 2, board.WinnerCount)
	assert.True(t, board.Rows[0].Prize.Equal(d(666)), "got %s", board.Rows[0].Prize)
	assert.True(t, board.Rows[1].Prize.Equal(d(333)))
	assert.True(t, board.Rows[2].Prize.IsZero())
	assert.True(t, board.Distributed.Equal(d(999)))
	assert.True(t, board.UnallocatedRemainder.Equal(d(1)))

	assert.Equal(t, 4, board.TotalParticipants)
	assert.Equal(t, model.StatusActive, board.Status)
	assert.Equal(t, int32(1), f.fetches.Load(), "one fetch per leaderboard")
	assert.Nil(t, f.lastAt.Load(), "active periods use latest prices")
}

func TestRank_TieBreaks(t *testing.T) {
	f := newFixture(t, 100, 1)
	f.table.Set("BTC", anchor, d(110))

	start := map[model.Asset]float64{"BTC": 100}
	f.submit(t, "zed", anchor.Add(time.Hour), all("BTC"), start)
	f.submit(t, "bob", anchor.Add(2*time.Hour), all("BTC"), start)
	f.submit(t, "amy", anchor.Add(2*time.Hour), all("BTC"), start)

	board, err := f.engine.Rank(context.Background(), "gw-1")
	require.NoError(t, err)

	// Equal returns: earlier acceptance first, then participant ID.
	require.Len(t, board.Rows, 3)
	assert.Equal(t, "zed", board.Rows[0].Participant)
	assert.Equal(t, "amy", board.Rows[1].Participant)
	assert.Equal(t, "bob", board.Rows[2].Participant)
	assert.Equal(t, []int{1, 2, 3}, []int{board.Rows[0].Rank, board.Rows[1].Rank, board.Rows[2].Rank})
}

func TestRank_Idempotent(t *testing.T) {
	f := newFixture(t, 1000, 0.5)
	f.table.Set("BTC", anchor, d(110))
	f.table.Set("ETH", anchor, d(95))
	f.table.Set("SOL", anchor, d(110))

	start := map[model.Asset]float64{"BTC": 100, "ETH": 100, "SOL": 100}
	mixed := model.Basket{{Asset: "BTC", Weight: d(50)}, {Asset: "SOL", Weight: d(50)}}
	f.submit(t, "erin", anchor.Add(3*time.Hour), all("ETH"), start)
	f.submit(t, "carl", anchor.Add(2*time.Hour), all("BTC"), start)
	f.submit(t, "bea", anchor.Add(2*time.Hour), mixed, start) // ties carl exactly
	f.submit(t, "abe", anchor.Add(2*time.Hour), all("SOL"), start)
	f.submit(t, "dan", anchor.Add(time.Hour), all("ETH"), start)

	ctx := context.Background()
	first, err := f.engine.Rank(ctx, "gw-1")
	require.NoError(t, err)
	second, err := f.engine.Rank(ctx, "current")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	var order []string
	for _, row := range second.Rows {
		order = append(order, row.Participant)
	}
	assert.Equal(t, []string{"abe", "bea", "carl", "dan", "erin"}, order)
	assert.True(t, second.Rows[0].ReturnPct.Equal(second.Rows[2].ReturnPct))
	assert.Equal(t, int32(2), f.fetches.Load())
}

func TestRank_EmptyPeriod(t *testing.T) {
	f := newFixture(t, 1000, 0.3)

	board, err := f.engine.Rank(context.Background(), "current")
	require.NoError(t, err)
	assert.NotNil(t, board.Rows)
	assert.Empty(t, board.Rows)
	assert.Equal(t, model.StatusActive, board.Status)
	assert.Equal(t, 0, board.WinnerCount)
	assert.True(t, board.UnallocatedRemainder.Equal(d(1000)))
	assert.Equal(t, int32(0), f.fetches.Load())

	upcoming, err := f.engine.Rank(context.Background(), "gw-3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUpcoming, upcoming.Status)
	assert.Empty(t, upcoming.Rows)
}

func TestRank_CompletedPeriodFreezesAtEnd(t *testing.T) {
	f := newFixture(t, 1000, 0.3)
	end := anchor.Add(week)
	f.table.Set("BTC", anchor, d(100))
	f.table.Set("BTC", end.Add(-time.Minute), d(120))
	f.table.Set("BTC", end.Add(time.Hour), d(50))

	f.submit(t, "alice", anchor.Add(time.Hour), all("BTC"), map[model.Asset]float64{"BTC": 100})
	f.now = end.Add(48 * time.Hour)

	board, err := f.engine.Rank(context.Background(), "gw-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, board.Status)
	require.NotNil(t, f.lastAt.Load())
	assert.Equal(t, end, *f.lastAt.Load())
	assert.Equal(t, end, board.EvaluatedAt)
	assert.True(t, board.Rows[0].ReturnPct.Equal(d(20)), "got %s", board.Rows[0].ReturnPct)
}

func TestRank_PriceUnavailable(t *testing.T) {
	f := newFixture(t, 1000, 0.3)
	f.table.Set("BTC", anchor, d(100))
	f.submit(t, "alice", anchor.Add(time.Hour), all("BTC"), map[model.Asset]float64{"BTC": 100})
	f.submit(t, "bob", anchor.Add(time.Hour), all("ETH"), map[model.Asset]float64{"ETH": 100})

	_, err := f.engine.Rank(context.Background(), "current")
	assert.True(t, errors.Is(err, price.ErrPriceUnavailable), "got %v", err)
}

func TestRank_CalculatorErrorPropagates(t *testing.T) {
	f := newFixture(t, 1000, 0.3)
	f.table.Set("BTC", anchor, d(100))
	f.submit(t, "alice", anchor.Add(time.Hour), all("BTC"), map[model.Asset]float64{"BTC": 0})

	_, err := f.engine.Rank(context.Background(), "current")
	assert.True(t, errors.Is(err, scoring.ErrInvalidPrice), "got %v", err)
}

func TestRank_UnknownPeriod(t *testing.T) {
	f := newFixture(t, 1000, 0.3)

	_, err := f.engine.Rank(context.Background(), "gw-0")
	assert.True(t, errors.Is(err, period.ErrUnknownPeriod))
}

func TestRank_ZeroWeightLegsNotFetched(t *testing.T) {
	f := newFixture(t, 1000, 0.3)
	f.table.Set("BTC", anchor, d(100))
	f.table.Set("ETH", anchor, d(100))

	f.submit(t, "alice", anchor.Add(time.Hour), model.Basket{
		{Asset: "BTC", Weight: d(50)},
		{Asset: "ETH", Weight: d(50)},
		{Asset: "DOGE", Weight: d(0)},
	}, map[model.Asset]float64{"BTC": 100, "ETH": 100})

	board, err := f.engine.Rank(context.Background(), "current")
	require.NoError(t, err)
	assert.True(t, board.Rows[0].ReturnPct.IsZero())
}

func TestCompareRows_TotalOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("compareRows is antisymmetric", prop.ForAll(
		func(ra, rb int64, ta, tb int64, pa, pb string) bool {
			a := model.LeaderboardRow{ReturnPct: decimal.New(ra, -2), AcceptedAt: time.Unix(ta, 0), Participant: pa}
			b := model.LeaderboardRow{ReturnPct: decimal.New(rb, -2), AcceptedAt: time.Unix(tb, 0), Participant: pb}
			return compareRows(a, b) == -compareRows(b, a)
		},
		gen.Int64Range(-500, 500),
		gen.Int64Range(-500, 500),
		gen.Int64Range(0, 3),
		gen.Int64Range(0, 3),
		gen.OneConstOf("a", "b", "c"),
		gen.OneConstOf("a", "b", "c"),
	))

	properties.TestingRun(t)
}
