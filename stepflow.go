// Package stepflow provides a planner-executor runtime for tool-using agents.
package stepflow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/edujuan/stepflow/internal/eventbus"
	"github.com/google/uuid"
)

// Stepflow is the main entry point into the runtime. It encapsulates the
// components required for planning, executing and answering a task.
type Stepflow struct {
	// Core components
	planner  Planner
	executor Executor
	solver   Solver
	reactor  Reactor
	eventBus eventbus.EventBus

	// Available tools
	registry *ToolRegistry

	// Configuration
	config Config

	// Async processing
	asyncRuns      map[string]*RunContext
	asyncRunsMutex sync.RWMutex
}

// Components holds references to the core components needed for state transitions.
type Components struct {
	Planner  Planner
	Executor Executor
	Solver   Solver
	Registry *ToolRegistry
	Config   Config
}

// Config holds the configuration options for the Stepflow runtime.
type Config struct {
	// Maximum number of concurrent step executions
	MaxConcurrentSteps int

	// Retry configuration for individual steps
	MaxRetries int
	RetryDelay time.Duration

	// Per-step execution timeout
	StepTimeout time.Duration

	// Total number of planning attempts for one task (initial plan plus replans)
	MaxPlanAttempts int

	// Iteration bound for the react loop
	MaxIterations int

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps:  5,
		MaxRetries:          0,
		RetryDelay:          time.Second * 2,
		StepTimeout:         time.Minute,
		MaxPlanAttempts:     2,
		MaxIterations:       10,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures a Stepflow instance.
type Option func(*Stepflow)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(s *Stepflow) {
		s.config = config
	}
}

// WithPlanner sets the planner component.
func WithPlanner(planner Planner) Option {
	return func(s *Stepflow) {
		s.planner = planner
	}
}

// WithExecutor sets the executor component.
func WithExecutor(executor Executor) Option {
	return func(s *Stepflow) {
		s.executor = executor
	}
}

// WithSolver sets the solver component.
func WithSolver(solver Solver) Option {
	return func(s *Stepflow) {
		s.solver = solver
	}
}

// WithReactor sets the react loop component.
func WithReactor(reactor Reactor) Option {
	return func(s *Stepflow) {
		s.reactor = reactor
	}
}

// WithTools registers tools with the runtime's registry. Tools are keyed by
// their own Name(), the map keys are only used for error reporting.
func WithTools(tools map[string]Tool) Option {
	return func(s *Stepflow) {
		for name, tool := range tools {
			if err := s.registry.Register(tool); err != nil {
				log.Printf("Failed to register tool '%s': %v", name, err)
			}
		}
	}
}

// New creates a new Stepflow instance with the provided options.
func New(ctx context.Context, options ...Option) (*Stepflow, error) {
	// Create with default configuration
	s := &Stepflow{
		config:    DefaultConfig(),
		registry:  NewToolRegistry(),
		asyncRuns: make(map[string]*RunContext),
	}

	// Apply options
	for _, option := range options {
		option(s)
	}

	// Validate required components
	if s.planner == nil {
		return nil, NewConfigurationError("planner is required", nil)
	}

	if s.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}

	if s.solver == nil {
		return nil, NewConfigurationError("solver is required", nil)
	}

	if s.registry.Len() == 0 {
		return nil, NewConfigurationError("at least one tool is required", nil)
	}

	if s.config.MaxPlanAttempts < 1 {
		return nil, NewConfigurationError("max plan attempts must be at least 1", nil)
	}

	// Initialize event bus if enabled but not provided
	if s.config.EnableEventBus && s.eventBus == nil {
		s.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(s.config.EventBusBufferSize),
			eventbus.WithWorkerCount(s.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	return s, nil
}

// RegisterTool adds a new tool to the runtime.
func (s *Stepflow) RegisterTool(tool Tool) error {
	return s.registry.Register(tool)
}

// GetToolByName returns a tool by its name, or an error if not found.
func (s *Stepflow) GetToolByName(name string) (Tool, error) {
	tool, ok := s.registry.Lookup(name)
	if !ok {
		return nil, NewToolNotFoundError("lookup", name)
	}
	return tool, nil
}

// ListTools returns a sorted list of all registered tool names.
func (s *Stepflow) ListTools() []string {
	return s.registry.Names()
}

// GetToolSchemas returns a map of tool names to their full schemas,
// suitable for use in planner prompts.
func (s *Stepflow) GetToolSchemas() map[string]map[string]interface{} {
	return s.registry.Schemas()
}

// Process handles an end-to-end task run through the runtime using a
// pushdown automaton state machine approach (State Machine with a stack).
// Step failures inside an attempt do not abort the run: they feed the
// replanning loop, bounded by MaxPlanAttempts, and partial results are
// still synthesized into an answer.
func (s *Stepflow) Process(ctx context.Context, task string) (string, error) {
	stateMachine := s.createStateMachine()

	runContext := NewRunContext(task, s.config.MaxPlanAttempts)

	return stateMachine.Execute(ctx, runContext)
}

// ProcessReact handles a task through the react loop instead of the
// plan-then-execute pipeline. The loop interleaves model reasoning with tool
// invocations until the model produces a final answer or the iteration bound
// is reached.
func (s *Stepflow) ProcessReact(ctx context.Context, task string) (string, error) {
	if s.reactor == nil {
		return "", NewConfigurationError("reactor is required for react processing", nil)
	}
	return s.reactor.Run(ctx, task, s.registry)
}

// createStateMachine builds a state machine with all necessary transitions
// for the run workflow.
func (s *Stepflow) createStateMachine() *StateMachine {
	var eventBus eventbus.EventBus
	if s.config.EnableEventBus {
		eventBus = s.eventBus
	}

	components := Components{
		Planner:  s.planner,
		Executor: s.executor,
		Solver:   s.solver,
		Registry: s.registry,
		Config:   s.config,
	}

	return CreateRunStateMachine(components, eventBus)
}

// ProcessAsync starts an asynchronous task run.
// It returns a unique run ID that can be used to check the status or get the result.
func (s *Stepflow) ProcessAsync(ctx context.Context, task string) (string, error) {
	runID := uuid.New().String()

	stateMachine := s.createStateMachine()

	runContext := NewRunContext(task, s.config.MaxPlanAttempts)

	s.asyncRunsMutex.Lock()
	s.asyncRuns[runID] = runContext
	s.asyncRunsMutex.Unlock()

	// Create a new background context with cancellation for this async run
	asyncCtx, cancel := context.WithCancel(context.Background())

	// Store the cancel function in the state data for potential cancellation
	runContext.StateData["cancel"] = cancel

	if s.config.EnableEventBus && s.eventBus != nil {
		startEvent := eventbus.NewEvent(
			eventbus.EventRunAsyncStarted,
			task,
			"Stepflow.ProcessAsync",
			map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
				"run_id":    runID,
			},
		)
		s.eventBus.Publish(ctx, startEvent)
	}

	go func() {
		defer cancel()

		result, err := stateMachine.Execute(asyncCtx, runContext)

		s.asyncRunsMutex.Lock()
		if rCtx, exists := s.asyncRuns[runID]; exists {
			rCtx.FinalAnswer = result
			if err != nil && !rCtx.IsTerminal() {
				rCtx.SetError(err, string(rCtx.CurrentState))
			}
		}
		s.asyncRunsMutex.Unlock()

		if s.config.EnableEventBus && s.eventBus != nil {
			eventType := eventbus.EventRunAsyncSuccess
			metadata := map[string]interface{}{
				"run_id":      runID,
				"duration_ms": runContext.GetTotalDuration().Milliseconds(),
			}

			if err != nil {
				eventType = eventbus.EventRunAsyncFailure
				metadata["error"] = err.Error()
				metadata["error_stage"] = runContext.ErrorStage
			}

			completionEvent := eventbus.NewEvent(
				eventType,
				task,
				"Stepflow.ProcessAsync",
				metadata,
			)
			// Use background context since original context might be done
			s.eventBus.Publish(context.Background(), completionEvent)
		}
	}()

	return runID, nil
}

// Shutdown releases runtime resources. Currently this closes the event bus
// if one was initialized.
func (s *Stepflow) Shutdown() error {
	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			return fmt.Errorf("failed to close event bus: %w", err)
		}
	}
	return nil
}
