// Package notifier publishes run results and probe audit events to NATS
// JetStream for downstream alerting and audit consumers.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
)

const (
	resultStreamName   = "HEALTHCHECKS"
	resultSubject      = "healthcheck.result"
	probeSubjectPrefix = "healthcheck.probe."

	streamMaxAge = 7 * 24 * time.Hour
)

// RunEvent is the payload published for every completed schedule run.
type RunEvent struct {
	ScheduleID    string          `json:"schedule_id"`
	ApplicationID string          `json:"application_id"`
	Status        model.RunStatus `json:"status"`
	Message       string          `json:"message"`
	Duration      time.Duration   `json:"duration"`
	StartedAt     time.Time       `json:"started_at"`
	Successes     int             `json:"successes"`
	Failures      int             `json:"failures"`
}

// ProbeEvent is the payload published for every individual probe.
type ProbeEvent struct {
	ScheduleID   string               `json:"schedule_id,omitempty"`
	ConnectionID string               `json:"connection_id"`
	Kind         model.ConnectionKind `json:"kind"`
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	Class        model.FailureClass   `json:"class,omitempty"`
	Code         string               `json:"code,omitempty"`
	Duration     time.Duration        `json:"duration"`
	TestedAt     time.Time            `json:"tested_at"`
}

// Notifier publishes health-check events. Publish failures are logged and
// swallowed: the notifier must never fail a run.
type Notifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNotifier creates a notifier and ensures the result stream exists.
func NewNotifier(js nats.JetStreamContext, logger *zap.Logger) (*Notifier, error) {
	n := &Notifier{
		logger: logger.Named("notifier"),
		js:     js,
	}

	_, err := js.StreamInfo(resultStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     resultStreamName,
			Subjects: []string{"healthcheck.*", "healthcheck.probe.*"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
			MaxMsgs:  -1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		n.logger.Info("Created health-check stream", zap.String("name", resultStreamName))
	}

	return n, nil
}

// RunCompleted implements the dispatcher's ResultSink.
func (n *Notifier) RunCompleted(ctx context.Context, schedule *model.Schedule, summary model.RunSummary) {
	event := RunEvent{
		ScheduleID:    schedule.ID,
		ApplicationID: schedule.ApplicationID,
		Status:        summary.Status,
		Message:       summary.Message,
		Duration:      summary.Duration,
		StartedAt:     summary.StartedAt,
		Successes:     summary.Successes,
		Failures:      summary.Failures,
	}
	n.publish(resultSubject, event)
}

// ProbeCompleted implements the runner's OutcomeSink.
func (n *Notifier) ProbeCompleted(ctx context.Context, scheduleID string, conn *model.Connection, outcome model.RunOutcome) {
	event := ProbeEvent{
		ScheduleID:   scheduleID,
		ConnectionID: conn.ID,
		Kind:         conn.Kind,
		Success:      outcome.Success,
		Message:      outcome.Message,
		Class:        outcome.Class,
		Code:         outcome.Code,
		Duration:     outcome.Duration,
		TestedAt:     time.Now(),
	}
	n.publish(probeSubjectPrefix+string(conn.Kind), event)
}

func (n *Notifier) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}

	if _, err := n.js.Publish(subject, data); err != nil {
		n.logger.Error("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
