package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/portfolio-league/league-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	periods map[string]map[string]*model.Submission // period -> participant -> submission
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		periods: make(map[string]map[string]*model.Submission),
	}
}

func (s *MemoryStore) InsertSubmission(_ context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant := s.period(sub.PeriodID)
	if _, ok := byParticipant[sub.Participant]; ok {
		return fmt.Errorf("%w: %s in %s", ErrSubmissionExists, sub.Participant, sub.PeriodID)
	}

	// Store a copy to avoid external mutation.
	c := cloneSubmission(sub)
	byParticipant[sub.Participant] = &c
	return nil
}

func (s *MemoryStore) UpsertSubmission(_ context.Context, sub *model.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant := s.period(sub.PeriodID)
	_, replaced := byParticipant[sub.Participant]
	c := cloneSubmission(sub)
	byParticipant[sub.Participant] = &c
	return replaced, nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, periodID, participant string) (*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.periods[periodID][participant]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, participant, periodID)
	}
	c := cloneSubmission(sub)
	return &c, nil
}

func (s *MemoryStore) ListSubmissions(_ context.Context, periodID string) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byParticipant := s.periods[periodID]
	subs := make([]model.Submission, 0, len(byParticipant))
	for _, sub := range byParticipant {
		subs = append(subs, cloneSubmission(sub))
	}
	return subs, nil
}

func (s *MemoryStore) ListParticipantSubmissions(_ context.Context, participant string) ([]model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subs []model.Submission
	for _, byParticipant := range s.periods {
		if sub, ok := byParticipant[participant]; ok {
			subs = append(subs, cloneSubmission(sub))
		}
	}
	return subs, nil
}

func (s *MemoryStore) CountSubmissions(_ context.Context, periodID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.periods[periodID]), nil
}

func (s *MemoryStore) DeletePeriod(_ context.Context, periodID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.periods[periodID])
	delete(s.periods, periodID)
	return n, nil
}

// period returns the participant map for periodID, creating it. Callers hold mu.
func (s *MemoryStore) period(periodID string) map[string]*model.Submission {
	byParticipant, ok := s.periods[periodID]
	if !ok {
		byParticipant = make(map[string]*model.Submission)
		s.periods[periodID] = byParticipant
	}
	return byParticipant
}
