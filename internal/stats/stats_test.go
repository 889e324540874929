package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var anchor = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

type fakeRanker struct {
	mu     sync.Mutex
	boards map[string]*model.Leaderboard
	ranked []string
	err    error
}

func (f *fakeRanker) Rank(_ context.Context, periodID string) (*model.Leaderboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranked = append(f.ranked, periodID)
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.boards[periodID]; ok {
		return b, nil
	}
	return &model.Leaderboard{Rows: []model.LeaderboardRow{}}, nil
}

func row(rank int, participant string, ret, prize float64) model.LeaderboardRow {
	return model.LeaderboardRow{Rank: rank, Participant: participant, ReturnPct: d(ret), Prize: d(prize)}
}

func setup(t *testing.T, periods ...string) (*Service, *fakeRanker) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, id := range periods {
		require.NoError(t, st.InsertSubmission(context.Background(), &model.Submission{
			ID: id, Participant: "alice", PeriodID: id,
			StartPrices: model.Snapshot{Prices: map[model.Asset]decimal.Decimal{}},
		}))
	}

	clock, err := period.NewClock(anchor, 7*24*time.Hour, d(1000), d(0.3))
	require.NoError(t, err)

	ranker := &fakeRanker{boards: make(map[string]*model.Leaderboard)}
	svc := New(st, ranker, clock, 2)
	svc.now = func() time.Time { return anchor.Add(3*7*24*time.Hour + time.Hour) } // inside gw-4
	return svc, ranker
}

func TestForParticipant(t *testing.T) {
	svc, ranker := setup(t, "gw-1", "gw-2", "gw-3", "gw-4")
	ranker.boards["gw-1"] = &model.Leaderboard{Rows: []model.LeaderboardRow{
		row(1, "alice", 12.5, 700), row(2, "bob", 3, 300),
	}}
	ranker.boards["gw-2"] = &model.Leaderboard{Rows: []model.LeaderboardRow{
		row(1, "bob", 4, 1000), row(2, "alice", -2, 0),
	}}
	ranker.boards["gw-3"] = &model.Leaderboard{Rows: []model.LeaderboardRow{
		row(1, "carol", 9, 600), row(2, "alice", 5, 400), row(3, "bob", 1, 0),
	}}

	stats, err := svc.ForParticipant(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.PeriodsEntered)
	assert.Equal(t, 3, stats.PeriodsComplete, "gw-4 is still active")
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 2, stats.PrizeFinishes)
	assert.Equal(t, 1, stats.BestRank)
	assert.True(t, stats.BestReturnPct.Equal(d(12.5)))
	assert.True(t, stats.AvgReturnPct.Equal(d(5.16666667)), "got %s", stats.AvgReturnPct)
	assert.True(t, stats.TotalPrize.Equal(d(1100)))

	assert.NotContains(t, ranker.ranked, "gw-4")
}

func TestForParticipant_AllLosses(t *testing.T) {
	svc, ranker := setup(t, "gw-1")
	ranker.boards["gw-1"] = &model.Leaderboard{Rows: []model.LeaderboardRow{
		row(1, "bob", 1, 1000), row(2, "alice", -7, 0),
	}}

	stats, err := svc.ForParticipant(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, stats.BestReturnPct.Equal(d(-7)), "best of negative returns is still reported")
	assert.Equal(t, 0, stats.Wins)
	assert.Equal(t, 2, stats.BestRank)
}

func TestForParticipant_NoHistory(t *testing.T) {
	svc, ranker := setup(t)

	stats, err := svc.ForParticipant(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PeriodsEntered)
	assert.Equal(t, 0, stats.BestRank)
	assert.True(t, stats.TotalPrize.IsZero())
	assert.Empty(t, ranker.ranked)
}

func TestForParticipant_RankError(t *testing.T) {
	svc, ranker := setup(t, "gw-1")
	ranker.err = errors.New("price: unavailable")

	_, err := svc.ForParticipant(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ranker.err)
}
