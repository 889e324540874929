// Package period computes gameweek boundaries from a fixed anchor and length.
//
// Periods are numbered from 1. Period n covers
// [anchor + (n−1)·length, anchor + n·length), so consecutive periods share a
// boundary instant and never overlap or leave gaps. Everything is a pure
// function of the clock reading passed in; no timer drives rollover.
package period

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/model"
)

// IDPrefix prefixes every period identifier, e.g. "gw-42".
const IDPrefix = "gw-"

// CurrentAlias may be used wherever a period ID is accepted.
const CurrentAlias = "current"

var (
	// ErrUnknownPeriod is returned for malformed or out-of-range period IDs.
	ErrUnknownPeriod = errors.New("period: unknown period")
)

// Clock maps instants to periods.
type Clock struct {
	anchor         time.Time
	length         time.Duration
	prizePool      decimal.Decimal
	payoutFraction decimal.Decimal
}

// NewClock creates a clock. The anchor is moved back to the Monday 00:00 UTC
// at or before it, so weekly periods always start on a Monday.
func NewClock(anchor time.Time, length time.Duration, prizePool, payoutFraction decimal.Decimal) (*Clock, error) {
	if length <= 0 {
		return nil, fmt.Errorf("period: length must be positive, got %s", length)
	}
	return &Clock{
		anchor:         MondayOnOrBefore(anchor),
		length:         length,
		prizePool:      prizePool,
		payoutFraction: payoutFraction,
	}, nil
}

// MondayOnOrBefore returns 00:00 UTC of the Monday on or before t.
func MondayOnOrBefore(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday → 0, Sunday → 6
	return day.AddDate(0, 0, -offset)
}

// Anchor returns the normalised start of period 1.
func (c *Clock) Anchor() time.Time { return c.anchor }

// Length returns the period length.
func (c *Clock) Length() time.Duration { return c.length }

// NumberAt returns the number of the period containing now. Instants before
// the anchor map to period 1, which is then upcoming.
func (c *Clock) NumberAt(now time.Time) int64 {
	elapsed := now.Sub(c.anchor)
	if elapsed < 0 {
		return 1
	}
	return min(int64(elapsed/c.length)+1, c.MaxNumber())
}

// Current returns the period containing now.
func (c *Clock) Current(now time.Time) model.Period {
	return c.ByNumber(c.NumberAt(now))
}

// ByNumber returns period n. n must be in [1, MaxNumber].
func (c *Clock) ByNumber(n int64) model.Period {
	start := c.anchor.Add(time.Duration(n-1) * c.length)
	return model.Period{
		ID:             FormatID(n),
		Number:         n,
		Start:          start,
		End:            start.Add(c.length),
		PrizePool:      c.prizePool,
		PayoutFraction: c.payoutFraction,
	}
}

// MaxNumber is the last period whose end is representable as an offset from
// the anchor. Numbers past it would wrap onto earlier windows.
func (c *Clock) MaxNumber() int64 {
	return int64(math.MaxInt64 / c.length)
}

// Lookup resolves a period ID. The alias "current" resolves against now.
func (c *Clock) Lookup(id string, now time.Time) (model.Period, error) {
	if strings.EqualFold(strings.TrimSpace(id), CurrentAlias) {
		return c.Current(now), nil
	}
	n, err := ParseID(id)
	if err != nil {
		return model.Period{}, err
	}
	if n > c.MaxNumber() {
		return model.Period{}, fmt.Errorf("%w: %q is past the last period", ErrUnknownPeriod, id)
	}
	return c.ByNumber(n), nil
}

// StatusOf reports p's status at now.
func (c *Clock) StatusOf(p model.Period, now time.Time) model.PeriodStatus {
	return p.Status(now)
}

// FormatID renders the identifier of period n.
func FormatID(n int64) string {
	return IDPrefix + strconv.FormatInt(n, 10)
}

// ParseID extracts the period number from an identifier.
func ParseID(id string) (int64, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(id, IDPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, id)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, IDPrefix), 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, id)
	}
	return n, nil
}
