package basket

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-league/league-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator([]model.Asset{"BTC", "ETH", "SOL", "USDC"}, 3)
	require.NoError(t, err)
	return v
}

func TestValidate_Valid(t *testing.T) {
	v := newValidator(t)

	out, err := v.Validate(model.Basket{
		{Asset: "btc", Weight: d(50)},
		{Asset: " ETH", Weight: d(30)},
		{Asset: "SOL", Weight: d(20)},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Asset{"BTC", "ETH", "SOL"}, out.Assets())
}

func TestValidate_WithinTolerance(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate(model.Basket{
		{Asset: "BTC", Weight: d(33.33)},
		{Asset: "ETH", Weight: d(33.33)},
		{Asset: "SOL", Weight: d(33.33)},
	})
	assert.NoError(t, err, "99.99 is within 0.01 of 100")
}

func TestValidate_ZeroWeightAllowed(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate(model.Basket{
		{Asset: "BTC", Weight: d(100)},
		{Asset: "ETH", Weight: d(0)},
		{Asset: "SOL", Weight: d(0)},
	})
	assert.NoError(t, err)
}

func TestValidate_Invalid(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name   string
		basket model.Basket
	}{
		{"too few", model.Basket{{Asset: "BTC", Weight: d(50)}, {Asset: "ETH", Weight: d(50)}}},
		{"too many", model.Basket{
			{Asset: "BTC", Weight: d(25)}, {Asset: "ETH", Weight: d(25)},
			{Asset: "SOL", Weight: d(25)}, {Asset: "USDC", Weight: d(25)},
		}},
		{"unknown asset", model.Basket{{Asset: "DOGE", Weight: d(50)}, {Asset: "ETH", Weight: d(25)}, {Asset: "SOL", Weight: d(25)}}},
		{"duplicate", model.Basket{{Asset: "BTC", Weight: d(50)}, {Asset: "btc", Weight: d(25)}, {Asset: "SOL", Weight: d(25)}}},
		{"negative weight", model.Basket{{Asset: "BTC", Weight: d(110)}, {Asset: "ETH", Weight: d(-10)}, {Asset: "SOL", Weight: d(0)}}},
		{"weight over 100", model.Basket{{Asset: "BTC", Weight: d(100.5)}, {Asset: "ETH", Weight: d(0)}, {Asset: "SOL", Weight: d(0)}}},
		{"sum too low", model.Basket{{Asset: "BTC", Weight: d(33)}, {Asset: "ETH", Weight: d(33)}, {Asset: "SOL", Weight: d(33)}}},
		{"sum too high", model.Basket{{Asset: "BTC", Weight: d(50)}, {Asset: "ETH", Weight: d(30)}, {Asset: "SOL", Weight: d(20.02)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.basket)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBasket), "got %v", err)
		})
	}
}

func TestNewValidator_Rejects(t *testing.T) {
	_, err := NewValidator([]model.Asset{"BTC", "ETH"}, 3)
	assert.Error(t, err)

	_, err = NewValidator([]model.Asset{"BTC", "ETH", "SOL"}, 0)
	assert.Error(t, err)

	v, err := NewValidator([]model.Asset{"btc", "BTC", "eth", "sol"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.Asset{"BTC", "ETH", "SOL"}, v.Assets())
}

func TestValidate_SumProperty(t *testing.T) {
	v := newValidator(t)
	properties := gopter.NewProperties(nil)

	// Accepted baskets always sum to 100 within tolerance.
	properties.Property("accepted baskets sum to 100", prop.ForAll(
		func(a, b, c int) bool {
			basket := model.Basket{
				{Asset: "BTC", Weight: decimal.New(int64(a), -2)},
				{Asset: "ETH", Weight: decimal.New(int64(b), -2)},
				{Asset: "SOL", Weight: decimal.New(int64(c), -2)},
			}
			out, err := v.Validate(basket)
			sum := decimal.Zero
			for _, alloc := range basket {
				sum = sum.Add(alloc.Weight)
			}
			within := sum.Sub(hundred).Abs().LessThanOrEqual(Tolerance)
			if err != nil {
				return !within && errors.Is(err, ErrInvalidBasket)
			}
			return within && len(out) == 3
		},
		gen.IntRange(0, 10000),
		gen.IntRange(0, 10000),
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}
