// Package scheduler watches the period clock on a cron schedule and reacts
// to rollovers: it announces started and completed periods and exports the
// final standings of completed ones.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
)

// Event types emitted on rollover.
const (
	EventPeriodStarted   = "period_started"
	EventPeriodCompleted = "period_completed"
)

// DefaultSchedule checks the clock once a minute.
const DefaultSchedule = "@every 1m"

// Event announces a period transition.
type Event struct {
	Type     string
	PeriodID string
	Number   int64
}

// Exporter archives a completed period. *archive.Exporter satisfies it.
type Exporter interface {
	Export(ctx context.Context, periodID string) (string, error)
}

// Watcher detects period rollovers. Boundaries are computed from the clock
// reading, never from timers, so a late tick still sees every transition.
type Watcher struct {
	cron     *cron.Cron
	clock    *period.Clock
	exporter Exporter
	notify   func(Event)
	now      func() time.Time
	timeout  time.Duration

	mu      sync.Mutex
	seen    bool
	last    int64           // number of the latest started period
	pending map[string]bool // completed periods awaiting export
}

// New creates a watcher. exporter and notify may be nil.
func New(clock *period.Clock, schedule string, exporter Exporter, notify func(Event)) (*Watcher, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	w := &Watcher{
		cron:     cron.New(),
		clock:    clock,
		exporter: exporter,
		notify:   notify,
		now:      func() time.Time { return time.Now().UTC() },
		timeout:  time.Minute,
		pending:  make(map[string]bool),
	}
	if _, err := w.cron.AddFunc(schedule, func() { w.Tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start runs the first check immediately, then on schedule.
func (w *Watcher) Start() {
	slog.Info("starting period watcher")
	w.Tick(context.Background())
	w.cron.Start()
}

// Stop waits for a running check to finish.
func (w *Watcher) Stop() {
	slog.Info("stopping period watcher")
	<-w.cron.Stop().Done()
}

// Tick checks the clock once. The first call only records the current
// period; later calls announce every period that started or completed
// since the previous call and export the completed ones.
func (w *Watcher) Tick(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	current := w.clock.Current(now)
	metrics.CurrentPeriod.Set(float64(current.Number))

	// Before the anchor period 1 is upcoming; nothing has started yet.
	started := current.Number
	if current.Status(now) != model.StatusActive {
		started = current.Number - 1
	}

	if !w.seen {
		w.seen = true
		w.last = started
		return
	}

	for n := w.last + 1; n <= started; n++ {
		if n > 1 {
			prev := w.clock.ByNumber(n - 1)
			slog.Info("period completed", "period", prev.ID)
			w.emit(Event{Type: EventPeriodCompleted, PeriodID: prev.ID, Number: prev.Number})
			if w.exporter != nil {
				w.pending[prev.ID] = true
			}
		}
		p := w.clock.ByNumber(n)
		slog.Info("period started", "period", p.ID, "end", p.End)
		w.emit(Event{Type: EventPeriodStarted, PeriodID: p.ID, Number: p.Number})
	}
	if started > w.last {
		w.last = started
	}

	w.exportPending(ctx)
}

// Pending returns the completed periods still awaiting export.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// exportPending retries every pending export. Callers hold mu.
func (w *Watcher) exportPending(ctx context.Context) {
	for id := range w.pending {
		exportCtx, cancel := context.WithTimeout(ctx, w.timeout)
		_, err := w.exporter.Export(exportCtx, id)
		cancel()
		if err != nil {
			slog.Warn("standings export failed, will retry", "period", id, "err", err)
			continue
		}
		delete(w.pending, id)
	}
}

func (w *Watcher) emit(e Event) {
	if w.notify != nil {
		w.notify(e)
	}
}
