package model

import "time"

// FailureClass is the normalized taxonomy a native probe failure maps into.
type FailureClass string

const (
	FailureTimeout      FailureClass = "timeout"
	FailureUnauthorized FailureClass = "unauthorized"
	FailureInvalidConf  FailureClass = "invalid-config"
	FailureNotFound     FailureClass = "not-found-resource"
	FailureUnreachable  FailureClass = "network-unreachable"
	FailureRateLimited  FailureClass = "rate-limited"
	FailureUnknown      FailureClass = "unknown"
)

// RunOutcome is the normalized result of one connectivity probe. It is
// ephemeral: the runner folds outcomes into a RunSummary and the store keeps
// only the connection's last status fields.
type RunOutcome struct {
	ConnectionID string            `json:"connection_id"`
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Duration     time.Duration     `json:"duration"`
	Class        FailureClass      `json:"class,omitempty"`
	Code         string            `json:"code,omitempty"`
	Detail       string            `json:"detail,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
