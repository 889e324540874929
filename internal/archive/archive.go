// Package archive exports final standings of completed periods to object
// storage as JSON documents.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
)

// ErrPeriodNotCompleted is returned when exporting a period that can still change.
var ErrPeriodNotCompleted = errors.New("archive: period not completed")

// Writer stores an object. *S3Writer satisfies it.
type Writer interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Ranker computes a period leaderboard. *ranking.Engine satisfies it.
type Ranker interface {
	Rank(ctx context.Context, periodID string) (*model.Leaderboard, error)
}

// Document is the exported JSON body.
type Document struct {
	Leaderboard *model.Leaderboard `json:"leaderboard"`
	ExportedAt  time.Time          `json:"exported_at"`
}

// Exporter writes final standings.
type Exporter struct {
	ranker Ranker
	clock  *period.Clock
	writer Writer
	prefix string
	now    func() time.Time
}

// NewExporter creates an exporter that writes under prefix.
func NewExporter(ranker Ranker, clock *period.Clock, writer Writer, prefix string) *Exporter {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Exporter{
		ranker: ranker,
		clock:  clock,
		writer: writer,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the object key for periodID.
func (e *Exporter) Key(periodID string) string {
	return fmt.Sprintf("%sleaderboards/%s.json", e.prefix, periodID)
}

// Export ranks a completed period and writes it. It returns the object key.
func (e *Exporter) Export(ctx context.Context, periodID string) (key string, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ArchiveExports.WithLabelValues(result).Inc()
	}()

	now := e.now()
	p, err := e.clock.Lookup(periodID, now)
	if err != nil {
		return "", err
	}
	if status := p.Status(now); status != model.StatusCompleted {
		return "", fmt.Errorf("%w: %s is %s", ErrPeriodNotCompleted, p.ID, status)
	}

	board, err := e.ranker.Rank(ctx, p.ID)
	if err != nil {
		return "", err
	}

	body, err := json.MarshalIndent(Document{Leaderboard: board, ExportedAt: now}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode %s: %w", p.ID, err)
	}

	key = e.Key(p.ID)
	if err := e.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}

	slog.Info("standings exported", "period", p.ID, "key", key, "participants", board.TotalParticipants)
	return key, nil
}
