package model

import (
	"time"
)

// RunStatus represents the outcome class of a schedule run or a single probe.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusError   RunStatus = "error"
)

// Schedule is the cron-driven health-check configuration for one application.
// At most one schedule exists per application; edits replace the cron
// expression and enabled flag in place.
type Schedule struct {
	ID            string        `json:"id"`
	ApplicationID string        `json:"application_id"`
	Expression    string        `json:"expression"`
	Enabled       bool          `json:"enabled"`
	LastRunAt     *time.Time    `json:"last_run_at,omitempty"`
	LastStatus    RunStatus     `json:"last_status,omitempty"`
	LastMessage   string        `json:"last_message,omitempty"`
	LastDuration  time.Duration `json:"last_duration,omitempty"`
	NextRunAt     *time.Time    `json:"next_run_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RunSummary is the aggregated result of one schedule execution.
type RunSummary struct {
	ScheduleID string        `json:"schedule_id"`
	Status     RunStatus     `json:"status"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
}
