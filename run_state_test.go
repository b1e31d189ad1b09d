package stepflow

import (
	"context"
	"errors"
	"testing"

	"github.com/edujuan/stepflow/internal/eventbus"
)

type fakePlanner struct {
	plans  []*Plan
	errs   []error
	inputs []PlannerInput
}

func (p *fakePlanner) CreatePlan(ctx context.Context, input PlannerInput) (*Plan, error) {
	call := len(p.inputs)
	p.inputs = append(p.inputs, input)
	if call < len(p.errs) && p.errs[call] != nil {
		return nil, p.errs[call]
	}
	if call < len(p.plans) {
		return p.plans[call], nil
	}
	return nil, errors.New("no plan scripted for call")
}

// fakeExecutor marks each step succeeded or failed according to the scripted
// outcome for the attempt.
type fakeExecutor struct {
	outcomes []map[int]bool
	calls    int
}

func (e *fakeExecutor) ExecutePlan(ctx context.Context, plan *Plan, registry *ToolRegistry) (*ExecutionReport, *Outputs, error) {
	outcome := e.outcomes[e.calls]
	e.calls++

	report := NewExecutionReport()
	outputs := NewOutputs()
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if outcome[step.ID] {
			step.UpdateStatus(StepStatusSucceeded, nil)
			outputs.Set(step.ID, "out")
			report.Add(&ExecutionResult{Step: step, Status: StepStatusSucceeded, Output: "out"})
		} else {
			step.UpdateStatus(StepStatusFailed, errors.New("step failed"))
			report.Add(&ExecutionResult{Step: step, Status: StepStatusFailed, Error: "step failed"})
		}
	}
	return report, outputs, nil
}

type fakeSolver struct {
	answer  string
	err     error
	partial bool
	called  bool
}

func (s *fakeSolver) Synthesize(ctx context.Context, task string, report *ExecutionReport, partial bool) (string, error) {
	s.called = true
	s.partial = partial
	return s.answer, s.err
}

func testComponents(planner Planner, executor Executor, solver Solver, maxAttempts int) Components {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "noop"})
	config := DefaultConfig()
	config.MaxPlanAttempts = maxAttempts
	return Components{
		Planner:  planner,
		Executor: executor,
		Solver:   solver,
		Registry: registry,
		Config:   config,
	}
}

func simplePlan() *Plan {
	return NewPlan([]PlanStep{{ID: 1, ToolName: "noop", Description: "do the thing"}})
}

func TestRunStateMachine_HappyPath(t *testing.T) {
	planner := &fakePlanner{plans: []*Plan{simplePlan()}}
	executor := &fakeExecutor{outcomes: []map[int]bool{{1: true}}}
	solver := &fakeSolver{answer: "all done"}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), nil)
	rCtx := NewRunContext("do the thing", 2)

	answer, err := sm.Execute(context.Background(), rCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "all done" {
		t.Errorf("expected final answer, got %q", answer)
	}
	if rCtx.CurrentState != StateComplete {
		t.Errorf("expected complete state, got %s", rCtx.CurrentState)
	}
	if rCtx.Attempt != 1 {
		t.Errorf("expected 1 attempt, got %d", rCtx.Attempt)
	}
	if rCtx.Partial {
		t.Error("expected full result, got partial")
	}
	if len(planner.inputs) != 1 || planner.inputs[0].PriorReport != nil {
		t.Errorf("first attempt must not carry a prior report: %+v", planner.inputs)
	}
}

func TestRunStateMachine_ReplansAfterFailure(t *testing.T) {
	planner := &fakePlanner{plans: []*Plan{simplePlan(), simplePlan()}}
	executor := &fakeExecutor{outcomes: []map[int]bool{{1: false}, {1: true}}}
	solver := &fakeSolver{answer: "recovered"}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), nil)
	rCtx := NewRunContext("flaky task", 2)

	answer, err := sm.Execute(context.Background(), rCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("expected recovered answer, got %q", answer)
	}
	if rCtx.Attempt != 2 {
		t.Errorf("expected 2 attempts, got %d", rCtx.Attempt)
	}
	if rCtx.Partial {
		t.Error("second attempt succeeded, result must not be partial")
	}
	if len(planner.inputs) != 2 {
		t.Fatalf("expected 2 planner calls, got %d", len(planner.inputs))
	}
	if planner.inputs[1].PriorReport == nil {
		t.Error("replanning input must carry the prior report")
	}
}

func TestRunStateMachine_ExhaustedAttemptsSynthesizesPartial(t *testing.T) {
	planner := &fakePlanner{plans: []*Plan{simplePlan(), simplePlan()}}
	executor := &fakeExecutor{outcomes: []map[int]bool{{1: false}, {1: false}}}
	solver := &fakeSolver{answer: "best effort"}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), nil)
	rCtx := NewRunContext("doomed task", 2)

	answer, err := sm.Execute(context.Background(), rCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "best effort" {
		t.Errorf("expected partial answer, got %q", answer)
	}
	if !rCtx.Partial {
		t.Error("expected partial flag after exhausted attempts")
	}
	if !solver.partial {
		t.Error("solver must be told the result is partial")
	}
	if rCtx.CurrentState != StateComplete {
		t.Errorf("expected complete state, got %s", rCtx.CurrentState)
	}
}

func TestRunStateMachine_PlannerFailure(t *testing.T) {
	planner := &fakePlanner{errs: []error{errors.New("model unavailable")}}
	executor := &fakeExecutor{}
	solver := &fakeSolver{}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), nil)
	rCtx := NewRunContext("task", 2)

	_, err := sm.Execute(context.Background(), rCtx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if rCtx.CurrentState != StateError {
		t.Errorf("expected error state, got %s", rCtx.CurrentState)
	}
	if solver.called {
		t.Error("solver must not run after a planning failure")
	}
}

func TestRunStateMachine_Cancellation(t *testing.T) {
	planner := &fakePlanner{plans: []*Plan{simplePlan()}}
	executor := &fakeExecutor{outcomes: []map[int]bool{{1: true}}}
	solver := &fakeSolver{answer: "never"}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), nil)
	rCtx := NewRunContext("task", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sm.Execute(ctx, rCtx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rCtx.CurrentState != StateCancelled {
		t.Errorf("expected cancelled state, got %s", rCtx.CurrentState)
	}
}

func TestStateMachine_MissingTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	rCtx := NewRunContext("task", 1)

	_, err := sm.Execute(context.Background(), rCtx)
	if err == nil {
		t.Fatal("expected error for missing transition, got nil")
	}
	if rCtx.CurrentState != StateError {
		t.Errorf("expected error state, got %s", rCtx.CurrentState)
	}
}

func TestRunContext_StateStack(t *testing.T) {
	rCtx := NewRunContext("task", 1)

	rCtx.PushState(StatePlanning)
	rCtx.PushState(StateExecution)
	if rCtx.CurrentState != StateExecution {
		t.Errorf("expected execution state, got %s", rCtx.CurrentState)
	}

	if !rCtx.PopState() {
		t.Fatal("expected pop to succeed")
	}
	if rCtx.CurrentState != StatePlanning {
		t.Errorf("expected planning after pop, got %s", rCtx.CurrentState)
	}
	if !rCtx.PopState() {
		t.Fatal("expected pop to succeed")
	}
	if rCtx.CurrentState != StateInit {
		t.Errorf("expected init after pop, got %s", rCtx.CurrentState)
	}
	if rCtx.PopState() {
		t.Error("expected pop on empty stack to fail")
	}
}

func TestRunStateMachine_PublishesEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithBufferSize(64), eventbus.WithWorkerCount(1))
	defer bus.Close()

	planner := &fakePlanner{plans: []*Plan{simplePlan()}}
	executor := &fakeExecutor{outcomes: []map[int]bool{{1: true}}}
	solver := &fakeSolver{answer: "done"}

	sm := CreateRunStateMachine(testComponents(planner, executor, solver, 2), bus)
	rCtx := NewRunContext("task", 2)

	if _, err := sm.Execute(context.Background(), rCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
