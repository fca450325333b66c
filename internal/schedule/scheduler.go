// Package schedule runs the recurring query schedule. Each query gets
// one goroutine, so at most one recording is in flight per query name
// at a time; the store's multi-key update sequences rely on that.
// Different names execute and serialize fully independently.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"driftwatch/internal/config"
	"driftwatch/internal/executor"
	"driftwatch/internal/monitor"
	"driftwatch/internal/query"
	"driftwatch/internal/sink"
	"driftwatch/internal/store"
)

// calendarTimeLayout matches the legacy calendarTime record field.
const calendarTimeLayout = "Mon Jan 2 15:04:05 2006 UTC"

// Scheduler owns the execute-record-serialize cycle for every
// scheduled query.
type Scheduler struct {
	cfg     *config.Config
	db      store.Store
	exec    executor.Executor
	out     sink.Sink
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
	vetter  *monitor.QueryVetter

	hostID string
	epoch  uint64
	opts   query.SerializeOptions

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New assembles a scheduler from its collaborators.
func New(cfg *config.Config, db store.Store, exec executor.Executor, out sink.Sink, metrics *monitor.Metrics) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		exec:    exec,
		out:     out,
		metrics: metrics,
		tracer:  monitor.NewTracer(),
		vetter:  monitor.NewQueryVetter(),
		hostID:  cfg.ResolveHostIdentifier(),
		epoch:   cfg.ResolveEpoch(),
		opts: query.SerializeOptions{
			Numerics:            cfg.Logger.Numerics,
			DecorationsTopLevel: cfg.Logger.DecorationsTopLevel,
		},
	}
}

// Start vets the schedule and launches one run loop per query.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, sq := range s.cfg.Schedule {
		s.vetter.VetQuery(sq.Name, sq.Query)
		s.wg.Add(1)
		go s.runLoop(ctx, sq)
	}
	s.metrics.ScheduledQueries.Set(float64(len(s.cfg.Schedule)))

	log.Info().
		Int("queries", len(s.cfg.Schedule)).
		Uint64("epoch", s.epoch).
		Str("host_identifier", s.hostID).
		Msg("scheduler started")
}

// Stop cancels the run loops and waits for in-flight executions.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, sq config.ScheduledQuery) {
	defer s.wg.Done()

	q := query.New(s.db, sq.Name, sq.Query)
	ticker := time.NewTicker(sq.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runOnce(ctx, sq, q); err != nil {
				// The next tick re-derives the rows and retries the
				// whole execution; nothing was emitted for this one.
				log.Error().Err(err).Str("query", sq.Name).Msg("execution not recorded")
			}
		}
	}
}

// runOnce performs one full cycle for a query: execute, record,
// serialize, forward.
func (s *Scheduler) runOnce(ctx context.Context, sq config.ScheduledQuery, q *query.Query) error {
	start := time.Now()
	ctx, span := s.tracer.StartSpan(ctx, "run",
		monitor.AttrQueryName.String(sq.Name),
		monitor.AttrQueryMode.String(sq.Mode),
		monitor.AttrEpoch.Int64(int64(s.epoch)),
	)
	defer span.End()

	rows, err := s.exec.Execute(ctx, sq.Query)
	if err != nil {
		s.metrics.RecordError("execute")
		s.metrics.RecordExecution(sq.Name, "execute_error", time.Since(start).Seconds())
		return fmt.Errorf("executing %q: %w", sq.Name, err)
	}
	rows = query.NormalizeData(rows)
	s.metrics.ResultSetRows.WithLabelValues(sq.Name).Observe(float64(len(rows)))

	now := time.Now()
	item := &query.LogItem{
		Name:           sq.Name,
		HostIdentifier: s.hostID,
		UnixTime:       uint64(now.Unix()),
		CalendarTime:   now.UTC().Format(calendarTimeLayout),
		Epoch:          s.epoch,
		Decorations:    s.cfg.Decorations,
	}

	var lines []string
	switch sq.Mode {
	case "snapshot":
		item.IsSnapshot = true
		item.Snapshot = rows
		lines, err = query.SerializeLogItemJSON(item, s.opts)

	case "events":
		recStart := time.Now()
		if err = q.AddNewEvents(ctx, rows, item); err == nil {
			s.metrics.StoreOpDuration.WithLabelValues("add_new_events").Observe(time.Since(recStart).Seconds())
			if item.Results.Empty() && item.PreviousRemaining.Empty() {
				// Nothing to report this interval; suppressed.
			} else {
				lines, err = query.SerializeLogItemAsEventsJSON(item, s.opts)
			}
		}

	default: // differential
		recStart := time.Now()
		if err = q.AddNewResults(ctx, rows, item, true); err == nil {
			s.metrics.StoreOpDuration.WithLabelValues("add_new_results").Observe(time.Since(recStart).Seconds())
			s.metrics.RecordDiff(sq.Name, len(item.Results.Added), len(item.Results.Removed))
			lines, err = query.SerializeLogItemJSON(item, s.opts)
		}
	}
	if err != nil {
		kind := errorKind(err)
		s.metrics.RecordError(kind)
		s.metrics.RecordExecution(sq.Name, kind, time.Since(start).Seconds())
		return fmt.Errorf("recording %q: %w", sq.Name, err)
	}

	span.SetAttributes(
		monitor.AttrCounter.Int64(int64(item.Counter)),
		monitor.AttrRowsAdded.Int(len(item.Results.Added)),
		monitor.AttrRowsRemoved.Int(len(item.Results.Removed)),
		monitor.AttrRecordsCount.Int(len(lines)),
	)

	if len(lines) > 0 {
		for _, f := range s.vetter.VetOutput(strings.Join(lines, "\n")) {
			s.metrics.RecordError("sensitive_output")
			log.Warn().
				Str("query", sq.Name).
				Str("pattern", f.Pattern).
				Str("severity", f.Severity).
				Msg("sensitive content in emitted records")
		}
		if err := s.out.Write(ctx, lines); err != nil {
			s.metrics.RecordError("sink")
			s.metrics.RecordExecution(sq.Name, "sink_error", time.Since(start).Seconds())
			return fmt.Errorf("forwarding %d records for %q: %w", len(lines), sq.Name, err)
		}
		s.metrics.EmittedRecords.WithLabelValues(sq.Name).Add(float64(len(lines)))
	}

	s.metrics.RecordExecution(sq.Name, "ok", time.Since(start).Seconds())
	return nil
}

func errorKind(err error) string {
	if query.IsStoreFailure(err) {
		if errors.Is(err, query.ErrStoreRead) {
			return "store_read"
		}
		return "store_write"
	}
	switch {
	case errors.Is(err, query.ErrDeserialize):
		return "deserialize"
	case errors.Is(err, query.ErrSerialize):
		return "serialize"
	case errors.Is(err, query.ErrNoResults):
		return "no_results"
	default:
		return "record_error"
	}
}
