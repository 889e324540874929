package prize

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestAllocate_ThreeWinners(t *testing.T) {
	// 30 participants, top decile → 3 winners, weights [3,2,1] over 6.
	a, err := Allocate(30, d(1000), d(0.1))
	require.NoError(t, err)

	require.Equal(t, 3, a.WinnerCount)
	want := []int64{500, 333, 166}
	for i, w := range want {
		assert.True(t, a.Prizes[i].Equal(decimal.NewFromInt(w)), "rank %d: got %s", i+1, a.Prizes[i])
	}
	assert.True(t, a.Distributed.Equal(d(999)), "distributed %s", a.Distributed)
	assert.True(t, a.UnallocatedRemainder.Equal(d(1)), "remainder %s", a.UnallocatedRemainder)
}

func TestAllocate_NonWinnersGetZero(t *testing.T) {
	a, err := Allocate(30, d(1000), d(0.1))
	require.NoError(t, err)

	assert.True(t, a.PrizeFor(1).Equal(d(500)))
	assert.True(t, a.PrizeFor(4).IsZero())
	assert.True(t, a.PrizeFor(30).IsZero())
	assert.True(t, a.PrizeFor(0).IsZero())
}

func TestAllocate_NoParticipants(t *testing.T) {
	a, err := Allocate(0, d(1000), d(0.1))
	require.NoError(t, err)
	assert.Equal(t, 0, a.WinnerCount)
	assert.Empty(t, a.Prizes)
	assert.True(t, a.UnallocatedRemainder.Equal(d(1000)))
}

func TestAllocate_SingleParticipantTakesPool(t *testing.T) {
	a, err := Allocate(1, d(1000), d(0.1))
	require.NoError(t, err)
	require.Equal(t, 1, a.WinnerCount)
	assert.True(t, a.PrizeFor(1).Equal(d(1000)))
	assert.True(t, a.UnallocatedRemainder.IsZero())
}

func TestAllocate_InvalidParameters(t *testing.T) {
	tests := []struct {
		name         string
		participants int
		pool         decimal.Decimal
		fraction     decimal.Decimal
	}{
		{"negative pool", 10, d(-1), d(0.1)},
		{"negative fraction", 10, d(1000), d(-0.1)},
		{"fraction above one", 10, d(1000), d(1.5)},
		{"negative participants", -1, d(1000), d(0.1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.participants, tt.pool, tt.fraction)
			assert.True(t, errors.Is(err, ErrInvalidParameters), "got %v", err)
		})
	}
}

func TestWinnerCount(t *testing.T) {
	tests := []struct {
		participants int
		fraction     float64
		want         int
	}{
		{0, 0.1, 0},
		{1, 0.1, 1},
		{10, 0.1, 1},
		{11, 0.1, 2},
		{50, 0.1, 5},
		{7, 1, 7},
		{7, 0, 0},
	}
	for _, tt := range tests {
		got := WinnerCount(tt.participants, d(tt.fraction))
		assert.Equal(t, tt.want, got, "WinnerCount(%d, %v)", tt.participants, tt.fraction)
	}
}

func TestAllocate_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("payouts never exceed the pool", prop.ForAll(
		func(n int, pool int64, pct int) bool {
			a, err := Allocate(n, decimal.NewFromInt(pool), decimal.New(int64(pct), -2))
			if err != nil {
				return false
			}
			sum := decimal.Zero
			for _, p := range a.Prizes {
				sum = sum.Add(p)
			}
			return sum.LessThanOrEqual(a.Pool) &&
				sum.Equal(a.Distributed) &&
				a.Pool.Sub(sum).Equal(a.UnallocatedRemainder)
		},
		gen.IntRange(0, 500),
		gen.Int64Range(0, 10_000_000),
		gen.IntRange(0, 100),
	))

	properties.Property("higher ranks never receive less", prop.ForAll(
		func(n int, pool int64) bool {
			a, err := Allocate(n, decimal.NewFromInt(pool), d(0.1))
			if err != nil {
				return false
			}
			for i := 1; i < len(a.Prizes); i++ {
				if a.Prizes[i].GreaterThan(a.Prizes[i-1]) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 500),
		gen.Int64Range(0, 10_000_000),
	))

	properties.TestingRun(t)
}
