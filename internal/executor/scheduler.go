package executor

import (
	"sort"

	"github.com/edujuan/stepflow"
)

// readyBatch returns the pending steps whose dependencies have all reached a
// terminal state, ordered by step ID for deterministic scheduling. A
// dependency counts as satisfied on any terminal outcome, not just success;
// downstream reference resolution degrades instead of blocking the schedule.
func readyBatch(plan *stepflow.Plan) []*stepflow.PlanStep {
	ready := []*stepflow.PlanStep{}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status() != stepflow.StepStatusPending {
			continue
		}
		dependenciesMet := true
		for _, depID := range step.DependsOn {
			depStep, exists := plan.Step(depID)
			if !exists || !depStep.Status().Terminal() {
				dependenciesMet = false
				break
			}
		}
		if dependenciesMet {
			ready = append(ready, step)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// pendingSteps returns the steps that have not reached a terminal state and
// are not currently running. When readyBatch is empty but pendingSteps is
// not, the plan is deadlocked: the remaining steps wait on dependencies that
// can never be satisfied (a cycle or a dangling reference).
func pendingSteps(plan *stepflow.Plan) []*stepflow.PlanStep {
	pending := []*stepflow.PlanStep{}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status() == stepflow.StepStatusPending || step.Status() == stepflow.StepStatusReady {
			pending = append(pending, step)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending
}
