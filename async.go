package stepflow

import (
	"context"
	"fmt"
	"time"

	"github.com/edujuan/stepflow/internal/eventbus"
)

// AsyncRunStatus represents the status information for an async run.
type AsyncRunStatus struct {
	RunID        string        `json:"run_id"`
	Task         string        `json:"task"`
	CurrentState RunState      `json:"current_state"`
	Attempt      int           `json:"attempt"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	Partial      bool          `json:"partial"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// GetAsyncStatus retrieves the current status of an async run.
func (s *Stepflow) GetAsyncStatus(runID string) (*AsyncRunStatus, error) {
	s.asyncRunsMutex.RLock()
	defer s.asyncRunsMutex.RUnlock()

	rCtx, exists := s.asyncRuns[runID]
	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}

	status := &AsyncRunStatus{
		RunID:        runID,
		Task:         rCtx.Task,
		CurrentState: rCtx.CurrentState,
		Attempt:      rCtx.Attempt,
		StartTime:    rCtx.StartTime,
		Duration:     rCtx.GetTotalDuration(),
		IsComplete:   rCtx.CurrentState == StateComplete,
		HasError:     rCtx.CurrentState == StateError || rCtx.CurrentState == StateCancelled,
		Partial:      rCtx.Partial,
	}

	if rCtx.LastError != nil {
		status.ErrorMessage = rCtx.LastError.Error()
		status.ErrorStage = rCtx.ErrorStage
	}

	return status, nil
}

// GetAsyncResult retrieves the result of a completed async run.
// Returns an error if the run is not complete or encountered an error.
func (s *Stepflow) GetAsyncResult(runID string) (string, error) {
	s.asyncRunsMutex.RLock()
	defer s.asyncRunsMutex.RUnlock()

	rCtx, exists := s.asyncRuns[runID]
	if !exists {
		return "", fmt.Errorf("run with ID '%s' not found", runID)
	}

	if rCtx.CurrentState != StateComplete {
		if rCtx.CurrentState == StateError || rCtx.CurrentState == StateCancelled {
			return "", fmt.Errorf("run failed during stage '%s': %w", rCtx.ErrorStage, rCtx.LastError)
		}
		return "", fmt.Errorf("run is still in progress (current state: %s)", rCtx.CurrentState)
	}

	if rCtx.LastError != nil {
		return "", fmt.Errorf("run completed but encountered an error during stage '%s': %w", rCtx.ErrorStage, rCtx.LastError)
	}

	return rCtx.FinalAnswer, nil
}

// CancelAsyncRun cancels an ongoing async run.
// Returns true if the run was cancelled, false if it was already terminal.
func (s *Stepflow) CancelAsyncRun(runID string) (bool, error) {
	s.asyncRunsMutex.Lock()
	defer s.asyncRunsMutex.Unlock()

	rCtx, exists := s.asyncRuns[runID]
	if !exists {
		return false, fmt.Errorf("run with ID '%s' not found", runID)
	}

	if rCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := rCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel run: cancel function not found")
	}

	cancelFn()

	stage := string(rCtx.CurrentState)
	rCtx.SetCancelled(NewCancelledError(stage, nil), stage)

	if s.config.EnableEventBus && s.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventRunAsyncCancelled,
			rCtx.Task,
			"Stepflow.CancelAsyncRun",
			map[string]interface{}{
				"run_id":      runID,
				"duration_ms": rCtx.GetTotalDuration().Milliseconds(),
			},
		)
		s.eventBus.Publish(context.Background(), cancelEvent)
	}

	return true, nil
}

// ListAsyncRuns returns a map of all async run IDs and their current states.
func (s *Stepflow) ListAsyncRuns() map[string]string {
	s.asyncRunsMutex.RLock()
	defer s.asyncRunsMutex.RUnlock()

	result := make(map[string]string)
	for id, rCtx := range s.asyncRuns {
		result[id] = string(rCtx.CurrentState)
	}

	return result
}

// CleanupCompletedRuns removes terminal runs older than the specified duration.
// This prevents unbounded growth of the async run map.
func (s *Stepflow) CleanupCompletedRuns(olderThan time.Duration) int {
	s.asyncRunsMutex.Lock()
	defer s.asyncRunsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, rCtx := range s.asyncRuns {
		if rCtx.IsTerminal() && now.Sub(rCtx.StateStartTimes[rCtx.CurrentState]) > olderThan {
			delete(s.asyncRuns, id)
			count++
		}
	}

	return count
}
