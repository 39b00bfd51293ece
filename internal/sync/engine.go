package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope       = "daydial/sync"
	spanFullSync    = "sync.full"
	metricCreated   = "daydial.sync.events.created"
	metricUpdated   = "daydial.sync.events.updated"
	metricFailed    = "daydial.sync.events.failed"
	metricConflicts = "daydial.sync.conflicts"
	metricErrors    = "daydial.sync.errors"
)

// ParseSchedule returns the cron schedule for expr, or a fixed interval of
// every when expr is empty.
func ParseSchedule(expr string, every time.Duration) (cron.Schedule, error) {
	if expr == "" {
		return cron.Every(every), nil
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return s, nil
}

// Engine runs full syncs on a schedule and on request. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	orch     *Orchestrator
	store    LocalStore
	schedule cron.Schedule
	trigger  chan struct{}
	log      *slog.Logger

	// OTel instruments, never nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntFailed    metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// NewEngine creates an Engine that syncs the store's collection through orch.
func NewEngine(orch *Orchestrator, store LocalStore, schedule cron.Schedule, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		orch:     orch,
		store:    store,
		schedule: schedule,
		trigger:  make(chan struct{}, 1),
		log:      logger,

		tracer:       tracer,
		cntCreated:   mustCounter(metricCreated, "Number of events created remotely during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Number of events updated remotely during sync"),
		cntFailed:    mustCounter(metricFailed, "Number of event uploads that failed during sync"),
		cntConflicts: mustCounter(metricConflicts, "Number of matched events whose content differed"),
		cntErrors:    mustCounter(metricErrors, "Number of sync attempts that failed"),
	}
}

// Trigger requests a sync as soon as the running one (if any) finishes.
// It never blocks; requests made while one is queued are merged.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunOnce loads the local collection and performs a single full sync.
func (e *Engine) RunOnce(ctx context.Context) (SyncStats, error) {
	ctx, span := e.tracer.Start(ctx, spanFullSync)
	defer span.End()

	local := e.store.LoadAll(ctx)
	_, stats, err := e.orch.FullSync(ctx, local)

	// Counters are safe to record even when the span is a no-op.
	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Failed > 0 {
		e.cntFailed.Add(ctx, int64(stats.Failed))
	}
	if stats.Merge.Conflicts > 0 {
		e.cntConflicts.Add(ctx, int64(stats.Merge.Conflicts))
	}

	span.SetAttributes(
		attribute.Int("sync.local", len(local)),
		attribute.Int("sync.fetched", stats.Fetched),
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.failed", stats.Failed),
		attribute.Int("sync.conflicts", stats.Merge.Conflicts),
	)
	if err != nil {
		e.cntErrors.Add(ctx, 1)
		span.RecordError(err)
	}
	return stats, err
}

// Run performs an immediate sync, then one per schedule tick or
// [Engine.Trigger] call. It blocks until ctx is cancelled. A sync already
// running when ctx is cancelled is allowed to finish.
func (e *Engine) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(e.schedule, cron.FuncJob(e.Trigger))
	c.Start()
	defer func() { <-c.Stop().Done() }()

	e.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-e.trigger:
			e.sync(ctx)
		}
	}
}

func (e *Engine) sync(ctx context.Context) {
	// The orchestrator has already logged and recorded the failure.
	if _, err := e.RunOnce(context.WithoutCancel(ctx)); errors.Is(err, ErrNotAuthenticated) {
		e.log.Warn("sign-in required, will retry on next tick")
	}
}
