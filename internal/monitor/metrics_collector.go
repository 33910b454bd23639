// Package monitor collects host and scheduler metrics and publishes them to
// NATS for external observability consumers.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const metricsSubject = "metrics.system"

// CycleStats is the dispatcher activity since the last publication.
type CycleStats struct {
	Cycles        int           `json:"cycles"`
	SchedulesRun  int           `json:"schedules_run"`
	TotalRunTime  time.Duration `json:"total_run_time"`
	LastCycleTime time.Duration `json:"last_cycle_time"`
}

// Snapshot is the published metrics payload.
type Snapshot struct {
	Timestamp   time.Time  `json:"timestamp"`
	CPUUsage    float64    `json:"cpu_usage"`
	MemoryUsage float64    `json:"memory_usage"`
	Scheduler   CycleStats `json:"scheduler"`
}

// MetricsCollector samples host CPU/memory and dispatcher cycle stats on a
// fixed interval.
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	mu    sync.Mutex
	stats CycleStats

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMetricsCollector creates a collector. Call Start to begin sampling.
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// CycleCompleted implements the dispatcher's CycleObserver.
func (c *MetricsCollector) CycleCompleted(due int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Cycles++
	c.stats.SchedulesRun += due
	c.stats.TotalRunTime += duration
	c.stats.LastCycleTime = duration
}

// Start launches the collection loop.
func (c *MetricsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop.
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *MetricsCollector) collect() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	c.mu.Lock()
	stats := c.stats
	c.stats = CycleStats{}
	c.mu.Unlock()

	snapshot := Snapshot{
		Timestamp:   time.Now(),
		CPUUsage:    cpuPercent[0],
		MemoryUsage: memInfo.UsedPercent,
		Scheduler:   stats,
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if _, err := c.js.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("cycles", stats.Cycles))
}

// Stats returns the accumulated cycle stats since the last publication.
func (c *MetricsCollector) Stats() CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
