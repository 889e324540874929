package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-league/league-engine/internal/model"
)

const defaultCacheTTL = 30 * time.Second

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then bump a per-period version;
// cache keys embed the version read before the primary was consulted, so a
// fill that raced a write lands under a stale key nobody reads again. The
// primary alone decides insert conflicts, so atomicity is unchanged by the
// cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. Entries
// always expire; a non-positive ttl falls back to defaultCacheTTL.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, bump version) ---

func (s *CachedStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	if err := s.primary.InsertSubmission(ctx, sub); err != nil {
		return err
	}
	s.invalidate(ctx, sub.PeriodID)
	return nil
}

func (s *CachedStore) UpsertSubmission(ctx context.Context, sub *model.Submission) (bool, error) {
	replaced, err := s.primary.UpsertSubmission(ctx, sub)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, sub.PeriodID)
	return replaced, nil
}

func (s *CachedStore) DeletePeriod(ctx context.Context, periodID string) (int, error) {
	n, err := s.primary.DeletePeriod(ctx, periodID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, periodID)
	return n, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSubmission(ctx context.Context, periodID, participant string) (*model.Submission, error) {
	ver, cacheable := s.version(ctx, periodID)
	key := cachedSubmissionKey(periodID, ver, participant)

	if cacheable {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var sub model.Submission
			if json.Unmarshal(data, &sub) == nil {
				return &sub, nil
			}
		}
	}

	// Cache miss: read from primary.
	sub, err := s.primary.GetSubmission(ctx, periodID, participant)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sub); err == nil && cacheable {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return sub, nil
}

func (s *CachedStore) ListSubmissions(ctx context.Context, periodID string) ([]model.Submission, error) {
	ver, cacheable := s.version(ctx, periodID)
	key := cachedPeriodKey(periodID, ver)

	if cacheable {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var subs []model.Submission
			if json.Unmarshal(data, &subs) == nil {
				return subs, nil
			}
		}
	}

	// Cache miss.
	subs, err := s.primary.ListSubmissions(ctx, periodID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(subs); err == nil && cacheable {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return subs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListParticipantSubmissions(ctx context.Context, participant string) ([]model.Submission, error) {
	return s.primary.ListParticipantSubmissions(ctx, participant)
}

func (s *CachedStore) CountSubmissions(ctx context.Context, periodID string) (int, error) {
	return s.primary.CountSubmissions(ctx, periodID)
}

// --- Cache helpers ---

// version returns the period's cache generation. It must be read before the
// primary. When Redis cannot answer, the caller bypasses the cache.
func (s *CachedStore) version(ctx context.Context, periodID string) (int64, bool) {
	ver, err := s.rdb.Get(ctx, cachedVersionKey(periodID)).Int64()
	switch {
	case err == nil:
		return ver, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		slog.Warn("cache version read failed", "period", periodID, "err", err)
		return 0, false
	}
}

// invalidate moves the period to a new generation. Entries under older
// generations are never read again and age out with their TTL.
func (s *CachedStore) invalidate(ctx context.Context, periodID string) {
	if err := s.rdb.Incr(ctx, cachedVersionKey(periodID)).Err(); err != nil {
		slog.Warn("cache invalidation failed", "period", periodID, "err", err)
	}
}

func cachedVersionKey(periodID string) string {
	return fmt.Sprintf("league:cache:version:%s", periodID)
}
func cachedPeriodKey(periodID string, ver int64) string {
	return fmt.Sprintf("league:cache:period:%s:%d", periodID, ver)
}
func cachedSubmissionKey(periodID string, ver int64, participant string) string {
	return fmt.Sprintf("league:cache:submission:%s:%d:%s", periodID, ver, participant)
}
