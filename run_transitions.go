package stepflow

import (
	"fmt"
	"time"

	"context"

	"github.com/edujuan/stepflow/internal/eventbus"
)

// CreateRunStateMachine builds a complete state machine for one task run.
// Terminal states (complete, error, cancelled) stop the machine directly,
// so only the working states register transitions.
func CreateRunStateMachine(components Components, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateExecution, createExecutionTransition(components))
	sm.RegisterTransition(StateReplanning, createReplanningTransition(components))
	sm.RegisterTransition(StateSynthesis, createSynthesisTransition(components))

	return sm
}

// createInitTransition handles the initialization state.
func createInitTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RunContext) (RunState, error) {
		hasEventBus := eb != nil

		if hasEventBus {
			startEvent := eventbus.NewEvent(
				eventbus.EventRunStarted,
				rCtx.Task,
				"StateMachine.Init",
				map[string]interface{}{
					"timestamp":    time.Now().Format(time.RFC3339),
					"max_attempts": rCtx.MaxAttempts,
				},
			)
			eb.Publish(ctx, startEvent)
		}

		// Prepare planner input from the registered tool schemas
		rCtx.PlannerInput = PlannerInput{
			Task:        rCtx.Task,
			ToolSchemas: components.Registry.Schemas(),
		}

		return StatePlanning, nil
	}
}

// createPlanningTransition handles the planning state.
func createPlanningTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RunContext) (RunState, error) {
		hasEventBus := eb != nil
		planner := components.Planner

		rCtx.Attempt++

		if hasEventBus {
			planStartEvent := eventbus.NewEvent(
				eventbus.EventPlanGenerationStarted,
				rCtx.Task,
				"StateMachine.Planning",
				map[string]interface{}{
					"attempt":      rCtx.Attempt,
					"max_attempts": rCtx.MaxAttempts,
					"is_replan":    rCtx.PlannerInput.PriorReport != nil,
				},
			)
			eb.Publish(ctx, planStartEvent)
		}

		plan, err := planner.CreatePlan(ctx, rCtx.PlannerInput)
		if err != nil {
			if hasEventBus {
				failEvent := eventbus.NewEvent(
					eventbus.EventPlanGenerationFailure,
					err.Error(),
					"StateMachine.Planning",
					map[string]interface{}{
						"error":   err.Error(),
						"attempt": rCtx.Attempt,
					},
				)
				eb.Publish(ctx, failEvent)

				runFailEvent := eventbus.NewEvent(
					eventbus.EventRunFailure,
					rCtx.Task,
					"StateMachine.Planning",
					map[string]interface{}{
						"error": err.Error(),
						"stage": "plan_generation",
					},
				)
				eb.Publish(ctx, runFailEvent)
			}
			return StateError, fmt.Errorf("failed to generate execution plan: %w", err)
		}

		if hasEventBus {
			planSuccessEvent := eventbus.NewEvent(
				eventbus.EventPlanGenerationSuccess,
				plan,
				"StateMachine.Planning",
				map[string]interface{}{
					"step_count": len(plan.Steps),
					"attempt":    rCtx.Attempt,
				},
			)
			eb.Publish(ctx, planSuccessEvent)
		}

		rCtx.Plan = plan

		return StateExecution, nil
	}
}

// createExecutionTransition handles the plan execution state. Step failures
// do not abort the run here: the executor records them in the report and the
// transition decides between synthesis and another planning round.
func createExecutionTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RunContext) (RunState, error) {
		hasEventBus := eb != nil
		executor := components.Executor

		if hasEventBus {
			planStartEvent := eventbus.NewEvent(
				eventbus.EventPlanExecutionStarted,
				rCtx.Plan,
				"StateMachine.Execution",
				map[string]interface{}{
					"step_count": len(rCtx.Plan.Steps),
					"attempt":    rCtx.Attempt,
				},
			)
			eb.Publish(ctx, planStartEvent)
		}

		report, outputs, err := executor.ExecutePlan(ctx, rCtx.Plan, components.Registry)
		if err != nil {
			// Only infrastructural failures (cancellation, invalid plan)
			// surface as an error. Tool failures live in the report.
			if hasEventBus {
				planFailEvent := eventbus.NewEvent(
					eventbus.EventPlanExecutionFailure,
					err.Error(),
					"StateMachine.Execution",
					map[string]interface{}{
						"error": err.Error(),
					},
				)
				eb.Publish(ctx, planFailEvent)

				runFailEvent := eventbus.NewEvent(
					eventbus.EventRunFailure,
					rCtx.Task,
					"StateMachine.Execution",
					map[string]interface{}{
						"error": err.Error(),
						"stage": "plan_execution",
					},
				)
				eb.Publish(ctx, runFailEvent)
			}
			return StateError, fmt.Errorf("plan execution failed: %w", err)
		}

		rCtx.Report = report
		rCtx.Outputs = outputs

		if report.AllSucceeded() {
			if hasEventBus {
				planSuccessEvent := eventbus.NewEvent(
					eventbus.EventPlanExecutionSuccess,
					report,
					"StateMachine.Execution",
					map[string]interface{}{
						"result_count": len(report.Results()),
					},
				)
				eb.Publish(ctx, planSuccessEvent)
			}
			return StateSynthesis, nil
		}

		failures := report.Failures()

		if hasEventBus {
			planFailEvent := eventbus.NewEvent(
				eventbus.EventPlanExecutionFailure,
				report,
				"StateMachine.Execution",
				map[string]interface{}{
					"failure_count": len(failures),
					"attempt":       rCtx.Attempt,
				},
			)
			eb.Publish(ctx, planFailEvent)
		}

		if rCtx.Attempt < rCtx.MaxAttempts {
			return StateReplanning, nil
		}

		// Out of attempts. Synthesize what we have from the partial results.
		rCtx.Partial = true

		if hasEventBus {
			exhaustedEvent := eventbus.NewEvent(
				eventbus.EventReplanningExhausted,
				rCtx.Task,
				"StateMachine.Execution",
				map[string]interface{}{
					"attempts":      rCtx.Attempt,
					"failure_count": len(failures),
				},
			)
			eb.Publish(ctx, exhaustedEvent)
		}

		return StateSynthesis, nil
	}
}

// createReplanningTransition feeds the failed attempt's report back into the
// planner input and loops around to planning.
func createReplanningTransition(_ Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RunContext) (RunState, error) {
		hasEventBus := eb != nil

		rCtx.PlannerInput.PriorReport = rCtx.Report

		if hasEventBus {
			replanEvent := eventbus.NewEvent(
				eventbus.EventReplanningStarted,
				rCtx.Task,
				"StateMachine.Replanning",
				map[string]interface{}{
					"completed_attempts": rCtx.Attempt,
					"max_attempts":       rCtx.MaxAttempts,
					"failure_count":      len(rCtx.Report.Failures()),
				},
			)
			eb.Publish(ctx, replanEvent)
		}

		return StatePlanning, nil
	}
}

// createSynthesisTransition handles the synthesis state.
func createSynthesisTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RunContext) (RunState, error) {
		hasEventBus := eb != nil
		solver := components.Solver

		if hasEventBus {
			synthesisStartEvent := eventbus.NewEvent(
				eventbus.EventSynthesisStarted,
				rCtx.Task,
				"StateMachine.Synthesis",
				map[string]interface{}{
					"execution_result_count": len(rCtx.Report.Results()),
					"partial":                rCtx.Partial,
				},
			)
			eb.Publish(ctx, synthesisStartEvent)
		}

		finalAnswer, err := solver.Synthesize(ctx, rCtx.Task, rCtx.Report, rCtx.Partial)
		if err != nil {
			if hasEventBus {
				synthesisFailEvent := eventbus.NewEvent(
					eventbus.EventSynthesisFailure,
					err.Error(),
					"StateMachine.Synthesis",
					map[string]interface{}{
						"error": err.Error(),
					},
				)
				eb.Publish(ctx, synthesisFailEvent)

				runFailEvent := eventbus.NewEvent(
					eventbus.EventRunFailure,
					rCtx.Task,
					"StateMachine.Synthesis",
					map[string]interface{}{
						"error": err.Error(),
						"stage": "synthesis",
					},
				)
				eb.Publish(ctx, runFailEvent)
			}
			return StateError, fmt.Errorf("failed to synthesize final answer: %w", err)
		}

		if hasEventBus {
			synthesisSuccessEvent := eventbus.NewEvent(
				eventbus.EventSynthesisSuccess,
				finalAnswer,
				"StateMachine.Synthesis",
				map[string]interface{}{
					"answer_length": len(finalAnswer),
					"partial":       rCtx.Partial,
				},
			)
			eb.Publish(ctx, synthesisSuccessEvent)

			runSuccessEvent := eventbus.NewEvent(
				eventbus.EventRunSuccess,
				rCtx.Task,
				"StateMachine.Synthesis",
				map[string]interface{}{
					"final_answer": finalAnswer,
					"attempts":     rCtx.Attempt,
				},
			)
			eb.Publish(ctx, runSuccessEvent)
		}

		rCtx.FinalAnswer = finalAnswer
		rCtx.Complete()

		return StateComplete, nil
	}
}
