// Package stats aggregates a participant's results across completed periods.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/scoring"
)

// History lists every submission a participant has made. store.Store
// satisfies it.
type History interface {
	ListParticipantSubmissions(ctx context.Context, participant string) ([]model.Submission, error)
}

// Ranker computes a period leaderboard. *ranking.Engine satisfies it.
type Ranker interface {
	Rank(ctx context.Context, periodID string) (*model.Leaderboard, error)
}

// Service computes participant statistics.
type Service struct {
	history     History
	ranker      Ranker
	clock       *period.Clock
	now         func() time.Time
	concurrency int
}

// New creates a stats service. concurrency bounds the number of
// leaderboards computed at once; zero means 4.
func New(history History, ranker Ranker, clock *period.Clock, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		history:     history,
		ranker:      ranker,
		clock:       clock,
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: concurrency,
	}
}

// ForParticipant returns participant's statistics. Only completed periods
// count towards results; active and upcoming entries only count as entered.
func (s *Service) ForParticipant(ctx context.Context, participant string) (*model.ParticipantStats, error) {
	subs, err := s.history.ListParticipantSubmissions(ctx, participant)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", participant, err)
	}

	out := &model.ParticipantStats{
		Participant:    participant,
		PeriodsEntered: len(subs),
		BestReturnPct:  decimal.Zero,
		AvgReturnPct:   decimal.Zero,
		TotalPrize:     decimal.Zero,
	}

	now := s.now()
	var completed []string
	for _, sub := range subs {
		p, err := s.clock.Lookup(sub.PeriodID, now)
		if err != nil {
			return nil, err
		}
		if p.Status(now) == model.StatusCompleted {
			completed = append(completed, p.ID)
		}
	}
	if len(completed) == 0 {
		return out, nil
	}

	rows := make([]*model.LeaderboardRow, len(completed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range completed {
		g.Go(func() error {
			board, err := s.ranker.Rank(gctx, id)
			if err != nil {
				return fmt.Errorf("rank %s: %w", id, err)
			}
			for j := range board.Rows {
				if board.Rows[j].Participant == participant {
					rows[i] = &board.Rows[j]
					break
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, row := range rows {
		if row == nil {
			// Reset between listing and ranking.
			continue
		}
		out.PeriodsComplete++
		if row.Rank == 1 {
			out.Wins++
		}
		if row.Prize.IsPositive() {
			out.PrizeFinishes++
		}
		if out.BestRank == 0 || row.Rank < out.BestRank {
			out.BestRank = row.Rank
		}
		if out.PeriodsComplete == 1 || row.ReturnPct.GreaterThan(out.BestReturnPct) {
			out.BestReturnPct = row.ReturnPct
		}
		sum = sum.Add(row.ReturnPct)
		out.TotalPrize = out.TotalPrize.Add(row.Prize)
	}
	if out.PeriodsComplete > 0 {
		out.AvgReturnPct = sum.Div(decimal.NewFromInt(int64(out.PeriodsComplete))).Round(scoring.ReturnScale)
	}
	return out, nil
}
