// Package runner executes one schedule: it probes every active connection
// belonging to the schedule's application and folds the outcomes into a
// single run summary.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
)

const skippedMessage = "No active database connections found"

// ConnectionSource looks up the connections owned by an application.
type ConnectionSource interface {
	GetConnectionsForApplication(ctx context.Context, applicationID string) ([]*model.Connection, error)
}

// Tester runs a single connectivity probe.
type Tester interface {
	Test(ctx context.Context, conn *model.Connection) model.RunOutcome
}

// OutcomeSink receives per-probe outcomes. Implementations must not block
// the run; failures are the sink's problem.
type OutcomeSink interface {
	ProbeCompleted(ctx context.Context, scheduleID string, conn *model.Connection, outcome model.RunOutcome)
}

// Runner executes schedules. It never mutates the schedule or the store;
// the caller persists the returned summary.
type Runner struct {
	logger      *zap.Logger
	connections ConnectionSource
	tester      Tester
	sink        OutcomeSink
}

// NewRunner creates a runner. sink may be nil.
func NewRunner(connections ConnectionSource, tester Tester, sink OutcomeSink, logger *zap.Logger) *Runner {
	return &Runner{
		logger:      logger.Named("runner"),
		connections: connections,
		tester:      tester,
		sink:        sink,
	}
}

// Run probes every active connection of the schedule's application,
// sequentially, and aggregates the outcomes:
//
//	no active connections        -> skipped
//	all probes succeeded         -> success
//	all probes failed            -> failed
//	both                         -> partial
//
// A failure to even list the connections yields status error. Run never
// returns an error or panics.
func (r *Runner) Run(ctx context.Context, schedule *model.Schedule) model.RunSummary {
	start := time.Now()
	summary := model.RunSummary{
		ScheduleID: schedule.ID,
		StartedAt:  start,
	}

	conns, err := r.connections.GetConnectionsForApplication(ctx, schedule.ApplicationID)
	if err != nil {
		r.logger.Error("Failed to fetch connections for schedule",
			zap.String("schedule_id", schedule.ID),
			zap.String("application_id", schedule.ApplicationID),
			zap.Error(err))
		summary.Status = model.RunStatusError
		summary.Message = err.Error()
		summary.Duration = time.Since(start)
		return summary
	}

	for _, conn := range conns {
		if !conn.Active {
			continue
		}

		outcome := r.testOne(ctx, conn)
		if outcome.Success {
			summary.Successes++
		} else {
			summary.Failures++
		}

		if r.sink != nil {
			r.sink.ProbeCompleted(ctx, schedule.ID, conn, outcome)
		}
	}

	tested := summary.Successes + summary.Failures
	switch {
	case tested == 0:
		summary.Status = model.RunStatusSkipped
		summary.Message = skippedMessage
	case summary.Failures == 0:
		summary.Status = model.RunStatusSuccess
	case summary.Successes == 0:
		summary.Status = model.RunStatusFailed
	default:
		summary.Status = model.RunStatusPartial
	}

	if tested > 0 {
		summary.Message = fmt.Sprintf("Tested %d connections: %d successful, %d failed",
			tested, summary.Successes, summary.Failures)
	}

	summary.Duration = time.Since(start)
	return summary
}

// testOne shields the batch from a misbehaving prober: a panic counts as
// one failed probe and the loop continues.
func (r *Runner) testOne(ctx context.Context, conn *model.Connection) (outcome model.RunOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Connection test panicked",
				zap.String("connection_id", conn.ID),
				zap.Any("panic", rec))
			outcome = model.RunOutcome{
				ConnectionID: conn.ID,
				Success:      false,
				Class:        model.FailureUnknown,
				Message:      "Connection test failed unexpectedly",
			}
		}
	}()

	return r.tester.Test(ctx, conn)
}
