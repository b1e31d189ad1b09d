package stepflow

import (
	"context"
	"fmt"
	"time"

	"github.com/edujuan/stepflow/internal/eventbus"
)

// RunState represents the current state of a task run.
type RunState string

const (
	// StateInit is the initial state of the run
	StateInit RunState = "init"
	// StatePlanning represents the planning phase
	StatePlanning RunState = "planning"
	// StateExecution represents the plan execution phase
	StateExecution RunState = "execution"
	// StateReplanning represents the phase between a failed attempt and the
	// next planning round
	StateReplanning RunState = "replanning"
	// StateSynthesis represents the answer synthesis phase
	StateSynthesis RunState = "synthesis"
	// StateError represents an error state
	StateError RunState = "error"
	// StateComplete represents the completed state
	StateComplete RunState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled RunState = "cancelled"
	// StateUnknown is used when the status of an async run cannot be determined.
	StateUnknown RunState = "unknown"
)

// RunContext carries the data threaded through one task run. It acts as the
// tape of the state machine: transitions read and write it, the machine only
// inspects the current state.
type RunContext struct {
	// Input parameters
	Task string

	// Intermediate results
	PlannerInput PlannerInput
	Plan         *Plan
	Report       *ExecutionReport
	Outputs      *Outputs
	FinalAnswer  string

	// Replanning bookkeeping
	Attempt     int
	MaxAttempts int
	Partial     bool

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState RunState
	StateStack   []RunState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[RunState]time.Time
}

// NewRunContext creates a new run context for the given task.
func NewRunContext(task string, maxAttempts int) *RunContext {
	return &RunContext{
		Task:            task,
		MaxAttempts:     maxAttempts,
		CurrentState:    StateInit,
		StateStack:      []RunState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[RunState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (rc *RunContext) PushState(state RunState) {
	rc.StateStack = append(rc.StateStack, rc.CurrentState)
	rc.CurrentState = state
	rc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (rc *RunContext) PopState() bool {
	if len(rc.StateStack) == 0 {
		return false
	}
	lastIdx := len(rc.StateStack) - 1
	rc.CurrentState = rc.StateStack[lastIdx]
	rc.StateStack = rc.StateStack[:lastIdx]
	rc.StateStartTimes[rc.CurrentState] = time.Now()
	return true
}

// IsTerminal checks if the current state is a terminal state.
func (rc *RunContext) IsTerminal() bool {
	return rc.CurrentState == StateComplete || rc.CurrentState == StateError || rc.CurrentState == StateCancelled
}

// SetError sets the last error and error stage, transitioning to StateError.
func (rc *RunContext) SetError(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateError
	rc.StateStartTimes[StateError] = time.Now()
}

// SetCancelled sets the state to Cancelled and records the cancellation error.
func (rc *RunContext) SetCancelled(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateCancelled
	rc.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the run as complete and sets the end time.
func (rc *RunContext) Complete() {
	rc.CurrentState = StateComplete
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateComplete] = rc.EndTime
}

// GetStateDuration returns the duration spent in the given state so far.
func (rc *RunContext) GetStateDuration(state RunState) time.Duration {
	startTime, ok := rc.StateStartTimes[state]
	if !ok {
		return 0
	}
	if state == rc.CurrentState {
		return time.Since(startTime)
	}
	return 0
}

// GetTotalDuration returns the total duration of the run so far.
func (rc *RunContext) GetTotalDuration() time.Duration {
	if rc.CurrentState == StateComplete {
		return rc.EndTime.Sub(rc.StartTime)
	}
	return time.Since(rc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, rCtx *RunContext) (RunState, error)

// StateMachine represents a finite state machine driving one task run.
type StateMachine struct {
	transitions map[RunState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with no transitions registered.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[RunState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state RunState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state is reached. The
// cancellation check before each transition is the cooperative checkpoint:
// an in-flight tool invocation is not interrupted, but no further state is
// entered once the context is done.
func (sm *StateMachine) Execute(ctx context.Context, rCtx *RunContext) (string, error) {
	for !rCtx.IsTerminal() {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			currentStage := string(rCtx.CurrentState)
			rCtx.SetCancelled(err, currentStage)
			return "", err
		default:
		}

		transition, exists := sm.transitions[rCtx.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", rCtx.CurrentState)
			currentStage := string(rCtx.CurrentState)
			rCtx.SetError(err, currentStage)
			return "", err
		}

		nextState, err := transition(ctx, sm.eventBus, rCtx)

		if err != nil {
			currentStage := string(rCtx.CurrentState)
			if err == context.Canceled || err == context.DeadlineExceeded {
				rCtx.SetCancelled(err, currentStage)
			} else if !rCtx.IsTerminal() {
				rCtx.SetError(err, currentStage)
			}
			continue
		}

		if !rCtx.IsTerminal() {
			rCtx.CurrentState = nextState
			rCtx.StateStartTimes[nextState] = time.Now()
		}
	}

	return rCtx.FinalAnswer, rCtx.LastError
}
