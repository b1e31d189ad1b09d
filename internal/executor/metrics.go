package executor

import (
	"sync"
	"time"

	"github.com/edujuan/stepflow"
)

// ExecutorMetrics is a snapshot of statistics about one plan execution.
type ExecutorMetrics struct {
	StepsExecuted    int
	StepsSucceeded   int
	StepsFailed      int
	StepsSkipped     int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration
	TotalRetries     int
}

// metricsCollector accumulates execution metrics under a mutex. Snapshots
// are plain values and safe to copy.
type metricsCollector struct {
	mu sync.Mutex
	m  ExecutorMetrics
}

func (c *metricsCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = ExecutorMetrics{
		ShortestStepTime: time.Hour * 24, // Set to a large value initially
	}
}

func (c *metricsCollector) recordStep(duration time.Duration, retries int, status stepflow.StepStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.m.StepsExecuted++
	c.m.TotalDuration += duration
	c.m.TotalRetries += retries

	if duration > c.m.LongestStepTime {
		c.m.LongestStepTime = duration
	}
	if duration < c.m.ShortestStepTime && duration > 0 {
		c.m.ShortestStepTime = duration
	}

	switch status {
	case stepflow.StepStatusSucceeded:
		c.m.StepsSucceeded++
	case stepflow.StepStatusFailed:
		c.m.StepsFailed++
	case stepflow.StepStatusSkipped:
		c.m.StepsSkipped++
	}
}

func (c *metricsCollector) snapshot() ExecutorMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}
