package storage

import (
	"context"
	"errors"
	"time"

	"github.com/connwatch/connwatch/internal/model"
)

// ErrNotFound is returned when a schedule or connection does not exist.
var ErrNotFound = errors.New("not found")

// RunResult is what the dispatcher persists for a schedule after each run.
type RunResult struct {
	Status   model.RunStatus
	Message  string
	Duration time.Duration
	RanAt    time.Time
	NextRun  *time.Time
}

// ScheduleStore holds schedules and their run state.
type ScheduleStore interface {
	// UpsertSchedule creates or replaces the schedule for its application.
	// One schedule per application: an existing row for the same
	// application is updated in place and keeps its identity. The given
	// schedule's ID and CreatedAt are overwritten with the surviving
	// row's values.
	UpsertSchedule(ctx context.Context, schedule *model.Schedule) error

	// GetSchedule retrieves a schedule by ID.
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)

	// ListSchedules retrieves all schedules.
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)

	// ListDueSchedules retrieves enabled schedules with next_run <= now.
	ListDueSchedules(ctx context.Context, now time.Time) ([]*model.Schedule, error)

	// SaveScheduleRunResult writes the run state fields after a run.
	SaveScheduleRunResult(ctx context.Context, scheduleID string, result RunResult) error

	// DeleteSchedule removes a schedule.
	DeleteSchedule(ctx context.Context, id string) error
}

// ConnectionStore holds connection definitions.
type ConnectionStore interface {
	// CreateConnection stores a new connection definition. Credential
	// fields must already be encrypted by the caller.
	CreateConnection(ctx context.Context, conn *model.Connection) error

	// GetConnection retrieves a connection by ID.
	GetConnection(ctx context.Context, id string) (*model.Connection, error)

	// GetConnectionsForApplication retrieves all connections owned by an
	// application.
	GetConnectionsForApplication(ctx context.Context, applicationID string) ([]*model.Connection, error)

	// SaveConnectionTestResult writes the last-test fields of a connection.
	SaveConnectionTestResult(ctx context.Context, connectionID string, status model.RunStatus, message string, testedAt time.Time) error
}

// Store is the full persistence surface the scheduler and the admin API
// consume.
type Store interface {
	ScheduleStore
	ConnectionStore
}
