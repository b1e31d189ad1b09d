package stepflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepStatus represents the possible states of a plan step.
type StepStatus string

const (
	// StepStatusPending indicates the step is waiting for dependencies.
	StepStatusPending StepStatus = "pending"
	// StepStatusReady indicates the step is ready to be executed.
	StepStatusReady StepStatus = "ready"
	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"
	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"
	// StepStatusFailed indicates the step's tool invocation failed.
	StepStatusFailed StepStatus = "failed"
	// StepStatusSkipped indicates the step was abandoned because its
	// dependencies can never be satisfied (deadlocked plan).
	StepStatusSkipped StepStatus = "skipped"
	// StepStatusCancelled indicates the step was cancelled.
	StepStatusCancelled StepStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. A dependency is
// considered satisfied once the step it names reaches any terminal state,
// regardless of outcome; reference resolution may still degrade downstream.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	}
	return false
}

// InputSourceType defines where a step input's value comes from.
type InputSourceType string

const (
	// InputLiteral indicates the input value is a literal (string, number,
	// boolean, nested structure).
	InputLiteral InputSourceType = "literal"

	// InputStepRef indicates the input value is the output of another step,
	// referenced with the reserved "$step{N}" marker.
	InputStepRef InputSourceType = "stepRef"

	// InputExpression indicates the input value is computed from an
	// expression over prior step outputs at resolution time.
	InputExpression InputSourceType = "expression"
)

// InputSource describes a single step input. Literals carry Value; step
// references carry RefID plus the raw marker text so an unresolved reference
// can be passed through verbatim; expressions carry the expression source.
type InputSource struct {
	Type       InputSourceType `json:"type"`
	Value      interface{}     `json:"value,omitempty"`
	RefID      int             `json:"ref_id,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	Expression string          `json:"expression,omitempty"`
}

// LiteralInput builds a literal input source.
func LiteralInput(v interface{}) InputSource {
	return InputSource{Type: InputLiteral, Value: v}
}

// StepRefInput builds an input source referencing the output of step id.
func StepRefInput(id int) InputSource {
	return InputSource{Type: InputStepRef, RefID: id, Raw: fmt.Sprintf("$step%d", id)}
}

// ExpressionInput builds an input source computed from an expression.
func ExpressionInput(expr string) InputSource {
	return InputSource{Type: InputExpression, Expression: expr}
}

// PlanStep represents a single unit of work in a plan.
type PlanStep struct {
	ID          int                    `json:"id"`
	Description string                 `json:"description"`
	ToolName    string                 `json:"tool_name"`
	Input       map[string]InputSource `json:"input"`
	DependsOn   []int                  `json:"depends_on"`

	// Internal execution state (not serialized).
	status    StepStatus `json:"-"`
	err       error      `json:"-"`
	mutex     sync.Mutex `json:"-"`
	startTime time.Time  `json:"-"`
	endTime   time.Time  `json:"-"`
	retries   int        `json:"-"`
}

// Status safely retrieves the step's current status.
func (s *PlanStep) Status() StepStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.status
}

// Err safely retrieves the step's recorded error, if any.
func (s *PlanStep) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// UpdateStatus safely updates the step's status and related information.
func (s *PlanStep) UpdateStatus(newStatus StepStatus, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	oldStatus := s.status
	s.status = newStatus

	now := time.Now()
	if newStatus == StepStatusRunning && oldStatus != StepStatusRunning {
		s.startTime = now
	}
	if newStatus.Terminal() && !oldStatus.Terminal() {
		s.endTime = now
	}

	if err != nil {
		s.err = err
	}
}

// Duration returns the execution duration of the step.
func (s *PlanStep) Duration() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.startTime.IsZero() {
		return 0
	}
	if s.endTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.endTime.Sub(s.startTime)
}

// Retries safely retrieves how many times the step has been retried.
func (s *PlanStep) Retries() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.retries
}

// Retry increments the retry count and marks the step ready again.
func (s *PlanStep) Retry() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.retries++
	s.status = StepStatusReady
	s.err = nil
}

// Plan represents the Directed Acyclic Graph (DAG) of steps produced for one
// task-solving attempt. It is read-only once finalized; only the per-step
// execution state mutates during a run.
type Plan struct {
	Steps   []PlanStep        `json:"steps"`
	StepMap map[int]*PlanStep `json:"-"`
}

// NewPlan creates a plan and initializes the step lookup map.
func NewPlan(steps []PlanStep) *Plan {
	plan := &Plan{
		Steps:   steps,
		StepMap: make(map[int]*PlanStep, len(steps)),
	}
	for i := range steps {
		step := &plan.Steps[i]
		step.status = StepStatusPending
		plan.StepMap[step.ID] = step
	}
	return plan
}

// Step retrieves a step by ID.
func (p *Plan) Step(id int) (*PlanStep, bool) {
	step, ok := p.StepMap[id]
	return step, ok
}

// Validate checks the plan for duplicate step IDs, dangling dependency
// references and cycles. Cycles are additionally detected at execution time
// as a deadlock; validating up front lets a caller reject a bad plan before
// spending any tool invocations on it.
func (p *Plan) Validate() error {
	seen := make(map[int]struct{}, len(p.Steps))
	for i := range p.Steps {
		if _, dup := seen[p.Steps[i].ID]; dup {
			return NewValidationError("planning", fmt.Sprintf("duplicate step id %d", p.Steps[i].ID), nil)
		}
		seen[p.Steps[i].ID] = struct{}{}
	}
	for i := range p.Steps {
		for _, dep := range p.Steps[i].DependsOn {
			if _, ok := seen[dep]; !ok {
				return NewValidationError("planning",
					fmt.Sprintf("step %d depends on unknown step %d", p.Steps[i].ID, dep), nil)
			}
		}
	}

	visited := make(map[int]bool, len(p.Steps))
	onStack := make(map[int]bool, len(p.Steps))
	var hasCycle func(id int) bool
	hasCycle = func(id int) bool {
		if onStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		onStack[id] = true
		if step, ok := p.StepMap[id]; ok {
			for _, dep := range step.DependsOn {
				if hasCycle(dep) {
					return true
				}
			}
		}
		onStack[id] = false
		return false
	}
	for i := range p.Steps {
		if hasCycle(p.Steps[i].ID) {
			return NewValidationError("planning",
				fmt.Sprintf("cycle detected in plan at step %d", p.Steps[i].ID), nil)
		}
	}
	return nil
}

// Outputs accumulates the outputs of completed steps, keyed as "step{N}".
// One Outputs instance is exclusively owned by a single plan execution
// attempt and is discarded (or handed read-only to replanning) afterwards.
type Outputs struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewOutputs creates an empty output context.
func NewOutputs() *Outputs {
	return &Outputs{values: make(map[string]interface{})}
}

// OutputKey returns the context key under which step id's output is stored.
func OutputKey(id int) string { return fmt.Sprintf("step%d", id) }

// Set records the output of step id.
func (o *Outputs) Set(id int, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[OutputKey(id)] = value
}

// Get retrieves the output of step id, if present.
func (o *Outputs) Get(id int) (interface{}, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[OutputKey(id)]
	return v, ok
}

// Snapshot returns a copy of the accumulated outputs.
func (o *Outputs) Snapshot() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]interface{}, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// ExecutionResult records the terminal outcome of one step.
type ExecutionResult struct {
	Step     *PlanStep     `json:"step"`
	Status   StepStatus    `json:"status"`
	Output   interface{}   `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the step completed successfully.
func (r *ExecutionResult) Succeeded() bool { return r.Status == StepStatusSucceeded }

// ExecutionReport is the ordered, append-only collection of results for one
// plan execution attempt, keyed by step ID.
type ExecutionReport struct {
	mu      sync.Mutex
	results []*ExecutionResult
	byID    map[int]*ExecutionResult
}

// NewExecutionReport creates an empty report.
func NewExecutionReport() *ExecutionReport {
	return &ExecutionReport{byID: make(map[int]*ExecutionResult)}
}

// Add appends a result. A second result for the same step ID is rejected;
// every step reaches exactly one terminal outcome per attempt.
func (r *ExecutionReport) Add(result *ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[result.Step.ID]; exists {
		return NewInternalError("execution",
			fmt.Sprintf("duplicate result for step %d", result.Step.ID), nil)
	}
	r.results = append(r.results, result)
	r.byID[result.Step.ID] = result
	return nil
}

// Result retrieves the result for a step ID, if recorded.
func (r *ExecutionReport) Result(id int) (*ExecutionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	return res, ok
}

// Results returns the recorded results ordered by step ID.
func (r *ExecutionReport) Results() []*ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ExecutionResult, len(r.results))
	copy(out, r.results)
	sort.Slice(out, func(i, j int) bool { return out[i].Step.ID < out[j].Step.ID })
	return out
}

// Len returns the number of recorded results.
func (r *ExecutionReport) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// AllSucceeded reports whether every recorded result succeeded.
func (r *ExecutionReport) AllSucceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Status != StepStatusSucceeded {
			return false
		}
	}
	return len(r.results) > 0
}

// Failures returns the results that did not succeed, ordered by step ID.
func (r *ExecutionReport) Failures() []*ExecutionResult {
	var failed []*ExecutionResult
	for _, res := range r.Results() {
		if res.Status != StepStatusSucceeded {
			failed = append(failed, res)
		}
	}
	return failed
}

// Summary renders the report as plain text suitable for a replanning or
// synthesis prompt.
func (r *ExecutionReport) Summary() string {
	var b strings.Builder
	for _, res := range r.Results() {
		switch res.Status {
		case StepStatusSucceeded:
			fmt.Fprintf(&b, "[ok] step %d: %s -> %v\n", res.Step.ID, res.Step.Description, res.Output)
		case StepStatusSkipped:
			fmt.Fprintf(&b, "[skipped] step %d: %s (unresolved dependency)\n", res.Step.ID, res.Step.Description)
		default:
			fmt.Fprintf(&b, "[failed] step %d: %s -> ERROR: %s\n", res.Step.ID, res.Step.Description, res.Error)
		}
	}
	return b.String()
}

// PlannerInput contains the information needed by the Planner to generate a
// plan. PriorReport is nil on the first attempt and carries the previous
// attempt's results during replanning.
type PlannerInput struct {
	Task        string                            `json:"task"`
	ToolSchemas map[string]map[string]interface{} `json:"tool_schemas"`
	PriorReport *ExecutionReport                  `json:"-"`
}
