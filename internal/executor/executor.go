// Package executor runs finalized plans against a tool registry, batch by
// batch along the dependency graph.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/eventbus"
	"github.com/sourcegraph/conc/pool"
)

// PlanExecutor executes a plan's steps in dependency order. Steps whose
// dependencies have all reached a terminal state run concurrently in one
// batch; a failed step never aborts the plan, it is recorded in the report
// and the remaining steps keep going.
type PlanExecutor struct {
	maxWorkers  int           // Max concurrent steps per batch
	maxRetries  int           // Max retries per step
	retryDelay  time.Duration // Delay between retries
	stepTimeout time.Duration // Per-step execution timeout

	eventBus eventbus.EventBus

	// Statistics and metrics
	metrics metricsCollector
}

// Option represents an option for configuring the PlanExecutor.
type Option func(*PlanExecutor)

// WithMaxWorkers sets the maximum number of concurrently executing steps.
func WithMaxWorkers(workers int) Option {
	return func(e *PlanExecutor) {
		if workers > 0 {
			e.maxWorkers = workers
		}
	}
}

// WithMaxRetries sets the maximum number of retries for failed steps.
func WithMaxRetries(retries int) Option {
	return func(e *PlanExecutor) {
		e.maxRetries = retries
	}
}

// WithRetryDelay sets the delay between step retries.
func WithRetryDelay(delay time.Duration) Option {
	return func(e *PlanExecutor) {
		e.retryDelay = delay
	}
}

// WithStepTimeout sets the per-step execution timeout.
func WithStepTimeout(timeout time.Duration) Option {
	return func(e *PlanExecutor) {
		e.stepTimeout = timeout
	}
}

// WithEventBus sets an event bus for step lifecycle events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *PlanExecutor) {
		e.eventBus = bus
	}
}

// NewPlanExecutor creates a new executor with default settings.
func NewPlanExecutor(options ...Option) *PlanExecutor {
	e := &PlanExecutor{
		maxWorkers:  5,
		maxRetries:  0,
		retryDelay:  time.Second * 2,
		stepTimeout: time.Minute,
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// ExecutePlan runs the plan to a complete report: every step ends in exactly
// one terminal state. The returned error covers infrastructure problems only
// (nil plan, cancellation); tool failures live inside the report.
func (e *PlanExecutor) ExecutePlan(ctx context.Context, plan *stepflow.Plan, registry *stepflow.ToolRegistry) (*stepflow.ExecutionReport, *stepflow.Outputs, error) {
	if plan == nil {
		return nil, nil, stepflow.NewInternalError("execution", "cannot execute a nil plan", nil)
	}
	if registry == nil {
		return nil, nil, stepflow.NewInternalError("execution", "cannot execute without a tool registry", nil)
	}

	startTime := time.Now()
	log.Printf("Starting plan execution (total_steps: %d)", len(plan.Steps))

	e.resetMetrics()

	report := stepflow.NewExecutionReport()
	outputs := stepflow.NewOutputs()

	for {
		if ctx.Err() != nil {
			e.cancelRemaining(plan, report, ctx.Err())
			return report, outputs, stepflow.NewCancelledError("execution", ctx.Err())
		}

		batch := readyBatch(plan)
		if len(batch) == 0 {
			remaining := pendingSteps(plan)
			if len(remaining) == 0 {
				break
			}
			// Nothing is ready but steps remain: the plan is deadlocked.
			e.skipDeadlocked(ctx, remaining, report)
			break
		}

		workerPool := pool.New().WithMaxGoroutines(e.maxWorkers)
		for _, step := range batch {
			step.UpdateStatus(stepflow.StepStatusReady, nil)
			workerPool.Go(func() {
				e.executeStep(ctx, step, registry, outputs, report)
			})
		}
		workerPool.Wait()
	}

	execDuration := time.Since(startTime)
	m := e.GetMetrics()
	log.Printf("Plan execution metrics (total_steps: %d, successful_steps: %d, failed_steps: %d, skipped_steps: %d, total_duration: %v, total_retries: %d)",
		len(plan.Steps),
		m.StepsSucceeded,
		m.StepsFailed,
		m.StepsSkipped,
		execDuration,
		m.TotalRetries)

	return report, outputs, nil
}

// executeStep runs one step to a terminal state and records the result.
func (e *PlanExecutor) executeStep(ctx context.Context, step *stepflow.PlanStep, registry *stepflow.ToolRegistry, outputs *stepflow.Outputs, report *stepflow.ExecutionReport) {
	step.UpdateStatus(stepflow.StepStatusRunning, nil)
	log.Printf("Starting step execution (step_id: %d, tool: %s)", step.ID, step.ToolName)

	e.publish(ctx, eventbus.EventStepExecutionStarted, step.Description, map[string]interface{}{
		"step_id": step.ID,
		"tool":    step.ToolName,
	})

	resolvedArgs, err := resolveInputs(step, outputs)
	if err != nil {
		// Argument resolution is deterministic, retrying cannot help.
		e.recordFailure(ctx, step, report, err)
		return
	}

	var result interface{}
	var toolErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			toolErr = stepflow.NewCancelledError("execution", ctx.Err())
			break
		}

		stepTimeout := e.stepTimeout
		if stepTimeout <= 0 {
			stepTimeout = time.Minute
		}
		execCtx, cancelTimeout := context.WithTimeout(ctx, stepTimeout)
		result, toolErr = registry.Invoke(execCtx, step.ToolName, resolvedArgs)
		timedOut := execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancelTimeout()

		if toolErr == nil {
			break
		}
		if timedOut {
			toolErr = stepflow.NewTimeoutError("execution",
				fmt.Errorf("tool '%s' exceeded %v: %w", step.ToolName, stepTimeout, toolErr))
		}

		if attempt >= e.maxRetries {
			break
		}

		log.Printf("Step execution failed, retrying (step_id: %d, tool: %s, error: %v, retry: %d, max_retries: %d)",
			step.ID, step.ToolName, toolErr, attempt+1, e.maxRetries)

		e.publish(ctx, eventbus.EventStepExecutionRetry, step.Description, map[string]interface{}{
			"step_id": step.ID,
			"tool":    step.ToolName,
			"retry":   attempt + 1,
			"error":   toolErr.Error(),
		})

		step.Retry()
		step.UpdateStatus(stepflow.StepStatusRunning, nil)

		select {
		case <-ctx.Done():
		case <-time.After(e.retryDelay):
		}
	}

	if toolErr != nil {
		e.recordFailure(ctx, step, report, toolErr)
		return
	}

	outputs.Set(step.ID, result)
	step.UpdateStatus(stepflow.StepStatusSucceeded, nil)
	e.record(report, &stepflow.ExecutionResult{
		Step:     step,
		Status:   stepflow.StepStatusSucceeded,
		Output:   result,
		Duration: step.Duration(),
	})
	e.updateStepMetrics(step)

	log.Printf("Step execution completed successfully (step_id: %d, tool: %s, duration: %v)",
		step.ID, step.ToolName, step.Duration())

	e.publish(ctx, eventbus.EventStepExecutionSuccess, step.Description, map[string]interface{}{
		"step_id":  step.ID,
		"tool":     step.ToolName,
		"duration": step.Duration().String(),
	})
}

// recordFailure marks a step failed and records its result.
func (e *PlanExecutor) recordFailure(ctx context.Context, step *stepflow.PlanStep, report *stepflow.ExecutionReport, err error) {
	step.UpdateStatus(stepflow.StepStatusFailed, err)
	e.record(report, &stepflow.ExecutionResult{
		Step:     step,
		Status:   stepflow.StepStatusFailed,
		Error:    err.Error(),
		Duration: step.Duration(),
	})
	e.updateStepMetrics(step)

	log.Printf("Step execution failed (step_id: %d, tool: %s, retries: %d, error: %v)",
		step.ID, step.ToolName, step.Retries(), err)

	e.publish(ctx, eventbus.EventStepExecutionFailure, step.Description, map[string]interface{}{
		"step_id": step.ID,
		"tool":    step.ToolName,
		"error":   err.Error(),
	})
}

// skipDeadlocked records a skipped result for every step stranded by a
// dependency that can never be satisfied.
func (e *PlanExecutor) skipDeadlocked(ctx context.Context, remaining []*stepflow.PlanStep, report *stepflow.ExecutionReport) {
	stepIDs := make([]int, 0, len(remaining))
	for _, step := range remaining {
		stepIDs = append(stepIDs, step.ID)
	}
	deadlockErr := stepflow.NewDependencyDeadlockError(stepIDs)
	log.Printf("Plan deadlocked, skipping remaining steps (step_ids: %v)", stepIDs)

	for _, step := range remaining {
		step.UpdateStatus(stepflow.StepStatusSkipped, deadlockErr)
		e.record(report, &stepflow.ExecutionResult{
			Step:     step,
			Status:   stepflow.StepStatusSkipped,
			Error:    deadlockErr.Error(),
			Duration: 0,
		})
		e.updateStepMetrics(step)

		e.publish(ctx, eventbus.EventStepExecutionSkipped, step.Description, map[string]interface{}{
			"step_id": step.ID,
			"tool":    step.ToolName,
			"error":   deadlockErr.Error(),
		})
	}
}

// cancelRemaining marks every non-terminal step cancelled and records it.
func (e *PlanExecutor) cancelRemaining(plan *stepflow.Plan, report *stepflow.ExecutionReport, cause error) {
	cancelErr := stepflow.NewCancelledError("execution", cause)
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status().Terminal() {
			continue
		}
		step.UpdateStatus(stepflow.StepStatusCancelled, cancelErr)
		e.record(report, &stepflow.ExecutionResult{
			Step:     step,
			Status:   stepflow.StepStatusCancelled,
			Error:    cancelErr.Error(),
			Duration: step.Duration(),
		})
	}
}

// record adds a result to the report, surfacing duplicate-result bugs loudly
// in the log instead of silently dropping them.
func (e *PlanExecutor) record(report *stepflow.ExecutionReport, result *stepflow.ExecutionResult) {
	if err := report.Add(result); err != nil {
		log.Printf("Failed to record result for step %d: %v", result.Step.ID, err)
	}
}

func (e *PlanExecutor) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, "PlanExecutor", metadata))
}

// resetMetrics resets the execution metrics for a new run.
func (e *PlanExecutor) resetMetrics() {
	e.metrics.reset()
}

// updateStepMetrics updates metrics based on a step that reached a terminal state.
func (e *PlanExecutor) updateStepMetrics(step *stepflow.PlanStep) {
	e.metrics.recordStep(step.Duration(), step.Retries(), step.Status())
}

// GetMetrics returns a snapshot of the current execution metrics.
func (e *PlanExecutor) GetMetrics() ExecutorMetrics {
	return e.metrics.snapshot()
}
