package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-league/league-engine/internal/model"
)

// RedisStore implements Store on Redis alone. Each period is a hash of
// participant -> submission JSON, so HSETNX gives an atomic
// compare-and-set per key. A set per participant indexes the periods they
// entered.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) InsertSubmission(ctx context.Context, sub *model.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	// SADD is idempotent: a duplicate participant is already indexed.
	var created *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, periodKey(sub.PeriodID), sub.Participant, data)
		pipe.SAdd(ctx, participantKey(sub.Participant), sub.PeriodID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert submission %s/%s: %w", sub.PeriodID, sub.Participant, err)
	}
	if !created.Val() {
		return fmt.Errorf("%w: %s in %s", ErrSubmissionExists, sub.Participant, sub.PeriodID)
	}
	return nil
}

func (s *RedisStore) UpsertSubmission(ctx context.Context, sub *model.Submission) (bool, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("encode submission: %w", err)
	}

	var added *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSet(ctx, periodKey(sub.PeriodID), sub.Participant, data)
		pipe.SAdd(ctx, participantKey(sub.Participant), sub.PeriodID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert submission %s/%s: %w", sub.PeriodID, sub.Participant, err)
	}
	// HSET reports the number of newly created fields.
	return added.Val() == 0, nil
}

func (s *RedisStore) GetSubmission(ctx context.Context, periodID, participant string) (*model.Submission, error) {
	data, err := s.rdb.HGet(ctx, periodKey(periodID), participant).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, participant, periodID)
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s/%s: %w", periodID, participant, err)
	}

	var sub model.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submission %s/%s: %w", periodID, participant, err)
	}
	return &sub, nil
}

func (s *RedisStore) ListSubmissions(ctx context.Context, periodID string) ([]model.Submission, error) {
	all, err := s.rdb.HGetAll(ctx, periodKey(periodID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list submissions %s: %w", periodID, err)
	}

	subs := make([]model.Submission, 0, len(all))
	for participant, data := range all {
		var sub model.Submission
		if err := json.Unmarshal([]byte(data), &sub); err != nil {
			return nil, fmt.Errorf("decode submission %s/%s: %w", periodID, participant, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *RedisStore) ListParticipantSubmissions(ctx context.Context, participant string) ([]model.Submission, error) {
	periodIDs, err := s.rdb.SMembers(ctx, participantKey(participant)).Result()
	if err != nil {
		return nil, fmt.Errorf("list periods for %s: %w", participant, err)
	}
	if len(periodIDs) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(periodIDs))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range periodIDs {
			cmds[i] = pipe.HGet(ctx, periodKey(id), participant)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list submissions for %s: %w", participant, err)
	}

	var subs []model.Submission
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			// Period was reset; the index entry is stale.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get submission %s/%s: %w", periodIDs[i], participant, err)
		}
		var sub model.Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			return nil, fmt.Errorf("decode submission %s/%s: %w", periodIDs[i], participant, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *RedisStore) CountSubmissions(ctx context.Context, periodID string) (int, error) {
	n, err := s.rdb.HLen(ctx, periodKey(periodID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count submissions %s: %w", periodID, err)
	}
	return int(n), nil
}

func (s *RedisStore) DeletePeriod(ctx context.Context, periodID string) (int, error) {
	participants, err := s.rdb.HKeys(ctx, periodKey(periodID)).Result()
	if err != nil {
		return 0, fmt.Errorf("delete period %s: %w", periodID, err)
	}

	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range participants {
			pipe.SRem(ctx, participantKey(p), periodID)
		}
		deleted = pipe.HLen(ctx, periodKey(periodID))
		pipe.Del(ctx, periodKey(periodID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete period %s: %w", periodID, err)
	}
	return int(deleted.Val()), nil
}

func periodKey(periodID string) string         { return fmt.Sprintf("league:submissions:%s", periodID) }
func participantKey(participant string) string { return fmt.Sprintf("league:participant:%s", participant) }
