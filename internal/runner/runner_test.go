package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/connwatch/connwatch/internal/model"
)

type stubSource struct {
	conns []*model.Connection
	err   error
}

func (s *stubSource) GetConnectionsForApplication(ctx context.Context, applicationID string) ([]*model.Connection, error) {
	return s.conns, s.err
}

// stubTester succeeds or fails per connection ID.
type stubTester struct {
	failing map[string]bool
	panics  map[string]bool
	calls   int
}

func (s *stubTester) Test(ctx context.Context, conn *model.Connection) model.RunOutcome {
	s.calls++
	if s.panics[conn.ID] {
		panic("prober bug")
	}
	return model.RunOutcome{ConnectionID: conn.ID, Success: !s.failing[conn.ID]}
}

func makeConns(n int, active bool) []*model.Connection {
	conns := make([]*model.Connection, n)
	for i := range conns {
		conns[i] = &model.Connection{ID: fmt.Sprintf("c%d", i), Active: active}
	}
	return conns
}

func TestRunAggregation(t *testing.T) {
	tests := []struct {
		name       string
		successes  int
		failures   int
		wantStatus model.RunStatus
	}{
		{"all succeed", 3, 0, model.RunStatusSuccess},
		{"all fail", 0, 3, model.RunStatusFailed},
		{"mixed", 2, 1, model.RunStatusPartial},
		{"single success", 1, 0, model.RunStatusSuccess},
		{"single failure", 0, 1, model.RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var conns []*model.Connection
			failing := map[string]bool{}
			for i := 0; i < tt.successes+tt.failures; i++ {
				id := fmt.Sprintf("c%d", i)
				conns = append(conns, &model.Connection{ID: id, Active: true})
				failing[id] = i >= tt.successes
			}

			r := NewRunner(&stubSource{conns: conns}, &stubTester{failing: failing}, nil, zap.NewNop())
			summary := r.Run(context.Background(), &model.Schedule{ID: "s1", ApplicationID: "app1"})

			assert.Equal(t, tt.wantStatus, summary.Status)
			assert.Equal(t, tt.successes, summary.Successes)
			assert.Equal(t, tt.failures, summary.Failures)
			assert.Equal(t,
				fmt.Sprintf("Tested %d connections: %d successful, %d failed",
					tt.successes+tt.failures, tt.successes, tt.failures),
				summary.Message)
		})
	}
}

func TestRunAggregationOrderIndependent(t *testing.T) {
	// Same multiset of outcomes in two different orders must agree.
	first := NewRunner(&stubSource{conns: makeConns(3, true)},
		&stubTester{failing: map[string]bool{"c0": true}}, nil, zap.NewNop())
	second := NewRunner(&stubSource{conns: makeConns(3, true)},
		&stubTester{failing: map[string]bool{"c2": true}}, nil, zap.NewNop())

	a := first.Run(context.Background(), &model.Schedule{ID: "s1"})
	b := second.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Message, b.Message)
}

func TestRunSkipsInactiveConnections(t *testing.T) {
	conns := append(makeConns(2, false), &model.Connection{ID: "live", Active: true})
	tester := &stubTester{}
	r := NewRunner(&stubSource{conns: conns}, tester, nil, zap.NewNop())

	summary := r.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Equal(t, 1, tester.calls)
	assert.Equal(t, model.RunStatusSuccess, summary.Status)
	assert.Equal(t, "Tested 1 connections: 1 successful, 0 failed", summary.Message)
}

func TestRunNoActiveConnections(t *testing.T) {
	tester := &stubTester{}
	r := NewRunner(&stubSource{conns: makeConns(2, false)}, tester, nil, zap.NewNop())

	summary := r.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Equal(t, model.RunStatusSkipped, summary.Status)
	assert.Equal(t, "No active database connections found", summary.Message)
	assert.Zero(t, tester.calls, "no probe may run for a skipped schedule")
}

func TestRunSourceFailure(t *testing.T) {
	r := NewRunner(&stubSource{err: errors.New("storage unavailable")}, &stubTester{}, nil, zap.NewNop())

	summary := r.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Equal(t, model.RunStatusError, summary.Status)
	assert.Equal(t, "storage unavailable", summary.Message)
}

func TestRunSurvivesPanickingProbe(t *testing.T) {
	conns := makeConns(3, true)
	tester := &stubTester{panics: map[string]bool{"c1": true}}
	r := NewRunner(&stubSource{conns: conns}, tester, nil, zap.NewNop())

	summary := r.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Equal(t, model.RunStatusPartial, summary.Status)
	assert.Equal(t, 2, summary.Successes)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 3, tester.calls, "panic must not abort the batch")
}

type recordingSink struct {
	outcomes []model.RunOutcome
}

func (s *recordingSink) ProbeCompleted(ctx context.Context, scheduleID string, conn *model.Connection, outcome model.RunOutcome) {
	s.outcomes = append(s.outcomes, outcome)
}

func TestRunReportsOutcomesToSink(t *testing.T) {
	sink := &recordingSink{}
	r := NewRunner(&stubSource{conns: makeConns(2, true)}, &stubTester{}, sink, zap.NewNop())

	r.Run(context.Background(), &model.Schedule{ID: "s1"})

	assert.Len(t, sink.outcomes, 2)
}
