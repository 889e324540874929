// Package ledger accepts basket submissions and records them with the start
// prices observed at acceptance. It is the only writer of submissions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/portfolio-league/league-engine/internal/basket"
	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/price"
	"github.com/portfolio-league/league-engine/internal/store"
)

var (
	// ErrPeriodNotActive is returned when submitting to an upcoming or
	// completed period.
	ErrPeriodNotActive = errors.New("ledger: period not active")

	// ErrDuplicateSubmission is returned under the reject policy when the
	// participant already has a submission for the period.
	ErrDuplicateSubmission = errors.New("ledger: duplicate submission")

	// ErrSubmissionNotFound is returned by Get when no submission exists.
	ErrSubmissionNotFound = errors.New("ledger: submission not found")

	// ErrInvalidParticipant is returned for an empty or oversized participant ID.
	ErrInvalidParticipant = errors.New("ledger: invalid participant")
)

// MaxParticipantLen bounds participant identifiers, in runes.
const MaxParticipantLen = 128

// Policy decides what a second submission for the same period does.
type Policy string

const (
	// PolicyReject keeps the first submission and rejects later ones.
	PolicyReject Policy = "reject"

	// PolicyRestart replaces the basket and restarts the measurement window
	// with fresh start prices.
	PolicyRestart Policy = "restart"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReject, PolicyRestart:
		return p, nil
	case "":
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("ledger: unknown resubmission policy %q", s)
	}
}

// Ledger records submissions.
type Ledger struct {
	store     store.Store
	clock     *period.Clock
	validator *basket.Validator
	prices    price.Provider
	policy    Policy
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPolicy sets the resubmission policy. The default is PolicyReject.
func WithPolicy(p Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithNow overrides the wall clock.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger.
func New(st store.Store, clock *period.Clock, validator *basket.Validator, prices price.Provider, opts ...Option) *Ledger {
	l := &Ledger{
		store:     st,
		clock:     clock,
		validator: validator,
		prices:    prices,
		policy:    PolicyReject,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy reports the resubmission policy in force.
func (l *Ledger) Policy() Policy { return l.policy }

// Submit validates and records a basket for participant in periodID. The
// start prices are fetched exactly once, for exactly the basket's assets,
// and are never re-fetched. Under PolicyReject concurrent submissions for the
// same key produce exactly one success.
func (l *Ledger) Submit(ctx context.Context, participant, periodID string, b model.Basket) (sub *model.Submission, err error) {
	replaced := false
	defer func() {
		metrics.SubmissionsTotal.WithLabelValues(submitOutcome(err, replaced)).Inc()
	}()

	participant, err = NormalizeParticipant(participant)
	if err != nil {
		return nil, err
	}

	normalized, err := l.validator.Validate(b)
	if err != nil {
		return nil, err
	}

	p, err := l.clock.Lookup(periodID, l.now())
	if err != nil {
		return nil, err
	}
	if status := p.Status(l.now()); status != model.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrPeriodNotActive, p.ID, status)
	}

	if l.policy == PolicyReject {
		// Fast path; the insert below is the authoritative check.
		if _, err := l.store.GetSubmission(ctx, p.ID, participant); err == nil {
			return nil, fmt.Errorf("%w: %s already entered %s", ErrDuplicateSubmission, participant, p.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	assets := normalized.Assets()
	snap, err := l.prices.GetPrices(ctx, assets, nil)
	if err != nil {
		return nil, price.Unavailable(err)
	}
	if err := price.Covers(snap, assets); err != nil {
		return nil, err
	}

	acceptedAt := l.now()
	if status := p.Status(acceptedAt); status != model.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrPeriodNotActive, p.ID, status)
	}

	sub = &model.Submission{
		ID:          uuid.New().String(),
		Participant: participant,
		PeriodID:    p.ID,
		Basket:      normalized,
		StartPrices: snap.Subset(assets),
		AcceptedAt:  acceptedAt,
	}

	switch l.policy {
	case PolicyRestart:
		replaced, err = l.store.UpsertSubmission(ctx, sub)
		if err != nil {
			return nil, err
		}
	default:
		if err := l.store.InsertSubmission(ctx, sub); err != nil {
			if errors.Is(err, store.ErrSubmissionExists) {
				return nil, fmt.Errorf("%w: %s already entered %s", ErrDuplicateSubmission, participant, p.ID)
			}
			return nil, err
		}
	}

	slog.Info("submission accepted",
		"id", sub.ID,
		"participant", participant,
		"period", p.ID,
		"assets", assets,
		"replaced", replaced,
		"prices_at", snap.Timestamp,
	)
	return sub, nil
}

// Get returns participant's submission for periodID.
func (l *Ledger) Get(ctx context.Context, participant, periodID string) (*model.Submission, error) {
	participant, err := NormalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	p, err := l.clock.Lookup(periodID, l.now())
	if err != nil {
		return nil, err
	}

	sub, err := l.store.GetSubmission(ctx, p.ID, participant)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s in %s", ErrSubmissionNotFound, participant, p.ID)
	}
	return sub, err
}

// ListForPeriod returns every submission of periodID, in no particular order.
func (l *Ledger) ListForPeriod(ctx context.Context, periodID string) ([]model.Submission, error) {
	p, err := l.clock.Lookup(periodID, l.now())
	if err != nil {
		return nil, err
	}
	return l.store.ListSubmissions(ctx, p.ID)
}

// Count returns the number of participants in periodID.
func (l *Ledger) Count(ctx context.Context, periodID string) (int, error) {
	p, err := l.clock.Lookup(periodID, l.now())
	if err != nil {
		return 0, err
	}
	return l.store.CountSubmissions(ctx, p.ID)
}

// ResetPeriod deletes every submission of periodID and returns how many
// were removed. It is an administrative operation.
func (l *Ledger) ResetPeriod(ctx context.Context, periodID string) (int, error) {
	p, err := l.clock.Lookup(periodID, l.now())
	if err != nil {
		return 0, err
	}
	n, err := l.store.DeletePeriod(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	slog.Warn("period reset", "period", p.ID, "removed", n)
	return n, nil
}

// NormalizeParticipant trims a participant ID and checks its length.
func NormalizeParticipant(participant string) (string, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return "", fmt.Errorf("%w: participant is required", ErrInvalidParticipant)
	}
	if utf8.RuneCountInString(participant) > MaxParticipantLen {
		return "", fmt.Errorf("%w: participant longer than %d characters", ErrInvalidParticipant, MaxParticipantLen)
	}
	return participant, nil
}

func submitOutcome(err error, replaced bool) string {
	switch {
	case err == nil && replaced:
		return "replaced"
	case err == nil:
		return "accepted"
	case errors.Is(err, basket.ErrInvalidBasket), errors.Is(err, ErrInvalidParticipant), errors.Is(err, period.ErrUnknownPeriod):
		return "invalid"
	case errors.Is(err, ErrPeriodNotActive):
		return "not_active"
	case errors.Is(err, ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, price.ErrPriceUnavailable):
		return "price_unavailable"
	default:
		return "error"
	}
}
