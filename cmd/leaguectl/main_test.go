package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/store"
)

// memoryEnv clears every variable that would point the CLI at a real backend.
func memoryEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "LEAGUE_RPC_URL", "LEAGUE_ARCHIVE_ENABLED", "LEAGUE_S3_BUCKET"} {
		t.Setenv(k, "")
	}
}

// redisEnv points the CLI at a fresh miniredis and returns a client on it.
func redisEnv(t *testing.T) *redis.Client {
	t.Helper()
	memoryEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// execute runs leaguectl with args. Flag variables outlive a single Execute,
// so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, asJSON, resetConfirmed = "", false, false, false
	cmdTimeout = 30 * time.Second

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, rdb *redis.Client, periodID, participant string) {
	t.Helper()
	at := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.NewRedisStore(rdb).InsertSubmission(context.Background(), &model.Submission{
		ID:          periodID + "-" + participant,
		Participant: participant,
		PeriodID:    periodID,
		Basket:      model.Basket{{Asset: "BTC", Weight: decimal.NewFromInt(100)}},
		StartPrices: model.Snapshot{Prices: map[model.Asset]decimal.Decimal{"BTC": decimal.NewFromInt(100)}, Timestamp: at},
		AcceptedAt:  at,
	}))
}

func TestReset_RequiresYes(t *testing.T) {
	rdb := redisEnv(t)
	seed(t, rdb, "gw-1", "alice")

	_, err := execute(t, "reset", "gw-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	n, err := rdb.HLen(context.Background(), "league:submissions:gw-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "nothing is deleted without confirmation")
}

func TestReset_Confirmed(t *testing.T) {
	rdb := redisEnv(t)
	seed(t, rdb, "gw-1", "alice")
	seed(t, rdb, "gw-1", "bob")
	seed(t, rdb, "gw-2", "alice")

	out, err := execute(t, "reset", "gw-1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 submissions from gw-1")

	ctx := context.Background()
	n, err := rdb.HLen(ctx, "league:submissions:gw-1").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = rdb.HLen(ctx, "league:submissions:gw-2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "other periods are untouched")
}

func TestReset_UnknownPeriod(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "reset", "gw-281474976710657", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown period")
}

func TestExport_ArchiveDisabled(t *testing.T) {
	memoryEnv(t)

	_, err := execute(t, "export", "gw-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive is disabled")
}

func TestStatus_JSON(t *testing.T) {
	rdb := redisEnv(t)
	seed(t, rdb, "gw-2", "alice")

	out, err := execute(t, "status", "gw-2", "--json")
	require.NoError(t, err)

	var got struct {
		Period       model.Period       `json:"period"`
		Status       model.PeriodStatus `json:"status"`
		Participants int                `json:"participants"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "gw-2", got.Period.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Participants)
}

func TestLeaderboard_EmptyPeriod(t *testing.T) {
	memoryEnv(t)

	out, err := execute(t, "leaderboard", "gw-1")
	require.NoError(t, err)
	assert.Contains(t, out, "gw-1 (completed), 0 participants")
	assert.Contains(t, out, "no submissions")
}
