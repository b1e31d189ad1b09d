package stepflow

import "context"

// Planner is responsible for generating a plan (DAG of steps) from a task and,
// when replanning, the prior attempt's execution report.
type Planner interface {
	CreatePlan(ctx context.Context, input PlannerInput) (*Plan, error)
}

// Tool represents an executable action that can be part of a plan or invoked
// by the react loop.
type Tool interface {
	// Execute performs the tool's action. input contains resolved arguments
	// based on the step definition and prior step outputs.
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)

	// Schema returns a description of the tool, used in planner prompts.
	// Standard keys include:
	// - "description": string description of what the tool does
	// - "parameters": map of parameter names to their descriptions
	// - "returns": description of the tool's return value
	Schema() map[string]interface{}

	// Validate checks if the provided input is valid for this tool.
	Validate(input map[string]interface{}) error

	// Name returns the tool's name.
	Name() string
}

// Solver synthesizes the final prose answer from an execution report. It is
// invoked for both full successes and partial failures; the report carries
// which steps completed and which did not.
type Solver interface {
	Synthesize(ctx context.Context, task string, report *ExecutionReport, partial bool) (string, error)
}

// Cache provides storage for frequently accessed data, like generated plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}

// Executor runs a finalized plan against a tool registry and produces one
// terminal result per step.
type Executor interface {
	ExecutePlan(ctx context.Context, plan *Plan, registry *ToolRegistry) (*ExecutionReport, *Outputs, error)
}

// Reactor runs a bounded think-act-observe loop for a task, dispatching tool
// invocations through the registry and returning the final answer text.
type Reactor interface {
	Run(ctx context.Context, task string, registry *ToolRegistry) (string, error)
}
