// Package store defines the persistence interface for the league engine.
// Implementations include PostgreSQL (source of truth), Redis (standalone
// or as a read-through cache in front of PostgreSQL), and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/model"
)

var (
	// ErrNotFound is returned when no submission exists for a key.
	ErrNotFound = errors.New("store: not found")

	// ErrSubmissionExists is returned by InsertSubmission when the
	// (period, participant) key is already taken.
	ErrSubmissionExists = errors.New("store: submission exists")
)

// Store is the persistence interface. Submissions are keyed by
// (PeriodID, Participant); every implementation makes InsertSubmission an
// atomic compare-and-set on that key.
type Store interface {
	// InsertSubmission persists sub unless its key exists, in which case it
	// returns ErrSubmissionExists and leaves the stored value unchanged.
	InsertSubmission(ctx context.Context, sub *model.Submission) error

	// UpsertSubmission persists sub, replacing any submission with the same
	// key. replaced reports whether one existed.
	UpsertSubmission(ctx context.Context, sub *model.Submission) (replaced bool, err error)

	// GetSubmission returns the submission for a key or ErrNotFound.
	GetSubmission(ctx context.Context, periodID, participant string) (*model.Submission, error)

	// ListSubmissions returns every submission of a period, in no particular order.
	ListSubmissions(ctx context.Context, periodID string) ([]model.Submission, error)

	// ListParticipantSubmissions returns every submission a participant has made.
	ListParticipantSubmissions(ctx context.Context, participant string) ([]model.Submission, error)

	// CountSubmissions returns the number of submissions in a period.
	CountSubmissions(ctx context.Context, periodID string) (int, error)

	// DeletePeriod removes every submission of a period and returns how many
	// were removed.
	DeletePeriod(ctx context.Context, periodID string) (int, error)
}

// cloneSubmission deep-copies sub so callers never share maps or slices
// with stored state.
func cloneSubmission(sub *model.Submission) model.Submission {
	out := *sub
	out.Basket = append(model.Basket(nil), sub.Basket...)
	out.StartPrices.Prices = make(map[model.Asset]decimal.Decimal, len(sub.StartPrices.Prices))
	for a, p := range sub.StartPrices.Prices {
		out.StartPrices.Prices[a] = p
	}
	return out
}
