package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/connwatch/connwatch/internal/testutil"
)

func TestMetricsCollector(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	collector := NewMetricsCollector(js, 1*time.Second, logger)

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "METRICS",
		Subjects: []string{"metrics.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collector.CycleCompleted(3, 250*time.Millisecond)
	collector.CycleCompleted(1, 50*time.Millisecond)

	collector.Start(ctx)
	defer collector.Stop()

	t.Run("publishes snapshot with cycle stats", func(t *testing.T) {
		time.Sleep(3 * time.Second)

		msgs := testutil.ConsumeMessages(t, js, "metrics.system", time.Second)
		require.NotEmpty(t, msgs)

		var snapshot Snapshot
		require.NoError(t, json.Unmarshal(msgs[0], &snapshot))

		assert.NotZero(t, snapshot.Timestamp)
		assert.GreaterOrEqual(t, snapshot.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, snapshot.MemoryUsage, 0.0)
		assert.Equal(t, 2, snapshot.Scheduler.Cycles)
		assert.Equal(t, 4, snapshot.Scheduler.SchedulesRun)
	})

	t.Run("stats reset after publication", func(t *testing.T) {
		assert.Zero(t, collector.Stats().Cycles)
	})
}

func TestCycleCompletedAccumulates(t *testing.T) {
	collector := NewMetricsCollector(nil, time.Minute, zaptest.NewLogger(t))

	collector.CycleCompleted(2, 100*time.Millisecond)
	collector.CycleCompleted(0, 10*time.Millisecond)

	stats := collector.Stats()
	assert.Equal(t, 2, stats.Cycles)
	assert.Equal(t, 2, stats.SchedulesRun)
	assert.Equal(t, 110*time.Millisecond, stats.TotalRunTime)
	assert.Equal(t, 10*time.Millisecond, stats.LastCycleTime)
}
