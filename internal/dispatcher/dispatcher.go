// Package dispatcher drives the health-check schedule polling loop.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
	"github.com/connwatch/connwatch/internal/storage"
)

// DefaultPollInterval is how often the store is scanned for due schedules.
const DefaultPollInterval = 60 * time.Second

// ScheduleRunner executes one due schedule and returns its summary.
type ScheduleRunner interface {
	Run(ctx context.Context, schedule *model.Schedule) model.RunSummary
}

// NextRunPlanner recomputes a schedule's next occurrence after a run.
type NextRunPlanner interface {
	NextRun(expression string, from time.Time) (time.Time, bool)
}

// ResultSink receives run summaries after they are persisted. Best-effort;
// implementations must not block the cycle.
type ResultSink interface {
	RunCompleted(ctx context.Context, schedule *model.Schedule, summary model.RunSummary)
}

// CycleObserver is notified after every polling cycle.
type CycleObserver interface {
	CycleCompleted(due int, duration time.Duration)
}

// Dispatcher is the long-lived polling loop: on each tick it asks the store
// for due schedules, runs them sequentially and persists the results.
type Dispatcher struct {
	logger   *zap.Logger
	store    storage.ScheduleStore
	runner   ScheduleRunner
	planner  NextRunPlanner
	sink     ResultSink
	observer CycleObserver
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval overrides the poll interval.
func WithInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.interval = interval }
}

// WithResultSink attaches a sink for completed run summaries.
func WithResultSink(sink ResultSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithCycleObserver attaches a per-cycle observer.
func WithCycleObserver(observer CycleObserver) Option {
	return func(d *Dispatcher) { d.observer = observer }
}

// NewDispatcher creates a dispatcher. Call Start to begin polling.
func NewDispatcher(store storage.ScheduleStore, runner ScheduleRunner, planner NextRunPlanner, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("dispatcher"),
		store:    store,
		runner:   runner,
		planner:  planner,
		interval: DefaultPollInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling loop in its own goroutine. The loop exits when
// Stop is called or ctx is canceled; an in-flight cycle finishes its current
// schedule first.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting dispatcher", zap.Duration("interval", d.interval))
	go d.loop(ctx)
}

// Stop signals the loop to exit and waits for it to drain.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// First scan immediately rather than waiting out a full interval.
	d.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// runCycle scans for due schedules and runs each one. Any error is logged
// and swallowed: a bad cycle never stops subsequent ticks.
func (d *Dispatcher) runCycle(ctx context.Context) {
	start := time.Now()
	now := start

	schedules, err := d.store.ListDueSchedules(ctx, now)
	if err != nil {
		d.logger.Error("Failed to scan for due schedules", zap.Error(err))
		return
	}

	for i, schedule := range schedules {
		if d.stopping(ctx) {
			d.logger.Info("Stop requested, leaving remaining schedules for the next start",
				zap.Int("remaining", len(schedules)-i))
			return
		}
		d.runOne(ctx, schedule)
	}

	if d.observer != nil {
		d.observer.CycleCompleted(len(schedules), time.Since(start))
	}

	if len(schedules) > 0 {
		d.logger.Info("Cycle completed",
			zap.Int("due", len(schedules)),
			zap.Duration("duration", time.Since(start)))
	}
}

func (d *Dispatcher) runOne(ctx context.Context, schedule *model.Schedule) {
	// Cancellation only gates starting new schedules. A schedule already
	// picked up runs to completion and persists its result, so shutdown
	// never leaves a half-recorded run behind.
	ctx = context.WithoutCancel(ctx)

	now := time.Now()
	summary := d.runner.Run(ctx, schedule)

	result := storage.RunResult{
		Status:   summary.Status,
		Message:  summary.Message,
		Duration: summary.Duration,
		RanAt:    now,
	}
	if next, ok := d.planner.NextRun(schedule.Expression, now); ok {
		result.NextRun = &next
	}

	// Best-effort write: a failed run result must still be persisted, and a
	// failed write must not abort the cycle.
	if err := d.store.SaveScheduleRunResult(ctx, schedule.ID, result); err != nil {
		d.logger.Error("Failed to persist run result",
			zap.String("schedule_id", schedule.ID),
			zap.String("status", string(summary.Status)),
			zap.Error(err))
	}

	if d.sink != nil {
		d.sink.RunCompleted(ctx, schedule, summary)
	}

	d.logger.Info("Schedule executed",
		zap.String("schedule_id", schedule.ID),
		zap.String("application_id", schedule.ApplicationID),
		zap.String("status", string(summary.Status)),
		zap.Duration("duration", summary.Duration))
}

func (d *Dispatcher) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-d.stop:
		return true
	default:
		return false
	}
}
