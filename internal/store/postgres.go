package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portfolio-league/league-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Baskets and start snapshots are stored as JSONB; decimals keep their
// exact string form inside the JSON.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const submissionColumns = `id, period_id, participant, basket, start_prices, accepted_at`

func (s *PostgresStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	basket, prices, err := encodeSubmission(sub)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6)
		 ON CONFLICT (period_id, participant) DO NOTHING`,
		sub.ID, sub.PeriodID, sub.Participant, basket, prices, sub.AcceptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission %s/%s: %w", sub.PeriodID, sub.Participant, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s in %s", ErrSubmissionExists, sub.Participant, sub.PeriodID)
	}
	return nil
}

func (s *PostgresStore) UpsertSubmission(ctx context.Context, sub *model.Submission) (bool, error) {
	basket, prices, err := encodeSubmission(sub)
	if err != nil {
		return false, err
	}

	// xmax is zero only for a freshly inserted row.
	var inserted bool
	err = s.pool.QueryRow(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES ($1, $2, $3, $4::JSONB, $5::JSONB, $6)
		 ON CONFLICT (period_id, participant) DO UPDATE
		 SET id = EXCLUDED.id, basket = EXCLUDED.basket,
		     start_prices = EXCLUDED.start_prices, accepted_at = EXCLUDED.accepted_at
		 RETURNING (xmax = 0)`,
		sub.ID, sub.PeriodID, sub.Participant, basket, prices, sub.AcceptedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert submission %s/%s: %w", sub.PeriodID, sub.Participant, err)
	}
	return !inserted, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, periodID, participant string) (*model.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE period_id = $1 AND participant = $2`, periodID, participant)

	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, participant, periodID)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s/%s: %w", periodID, participant, err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, periodID string) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE period_id = $1`, periodID)
	if err != nil {
		return nil, fmt.Errorf("list submissions %s: %w", periodID, err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func (s *PostgresStore) ListParticipantSubmissions(ctx context.Context, participant string) ([]model.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE participant = $1 ORDER BY accepted_at`, participant)
	if err != nil {
		return nil, fmt.Errorf("list submissions for %s: %w", participant, err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func (s *PostgresStore) CountSubmissions(ctx context.Context, periodID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE period_id = $1`, periodID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count submissions %s: %w", periodID, err)
	}
	return n, nil
}

func (s *PostgresStore) DeletePeriod(ctx context.Context, periodID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE period_id = $1`, periodID)
	if err != nil {
		return 0, fmt.Errorf("delete period %s: %w", periodID, err)
	}
	return int(tag.RowsAffected()), nil
}

func encodeSubmission(sub *model.Submission) (basket, prices string, err error) {
	b, err := json.Marshal(sub.Basket)
	if err != nil {
		return "", "", fmt.Errorf("encode basket: %w", err)
	}
	p, err := json.Marshal(sub.StartPrices)
	if err != nil {
		return "", "", fmt.Errorf("encode start prices: %w", err)
	}
	return string(b), string(p), nil
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var basket, prices []byte

	if err := row.Scan(&sub.ID, &sub.PeriodID, &sub.Participant, &basket, &prices, &sub.AcceptedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(basket, &sub.Basket); err != nil {
		return nil, fmt.Errorf("decode basket: %w", err)
	}
	if err := json.Unmarshal(prices, &sub.StartPrices); err != nil {
		return nil, fmt.Errorf("decode start prices: %w", err)
	}
	sub.AcceptedAt = sub.AcceptedAt.UTC()
	return &sub, nil
}

func scanSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
