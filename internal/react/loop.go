package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/eventbus"
	"github.com/edujuan/stepflow/internal/planner"
)

// Thinker produces the model's next response given the transcript so far.
type Thinker interface {
	Think(ctx context.Context, transcript string) (string, error)
}

// ThinkerFunc adapts a plain function to the Thinker interface.
type ThinkerFunc func(ctx context.Context, transcript string) (string, error)

// Think implements Thinker.
func (f ThinkerFunc) Think(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// iterationLimitAnswer is returned verbatim when the loop runs out of
// iterations without a final answer.
const iterationLimitAnswer = "Sorry, I reached the maximum number of iterations without completing the task."

// Loop drives the think-act-observe cycle against a tool registry.
type Loop struct {
	thinker       Thinker
	maxIterations int
	eventBus      eventbus.EventBus
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations sets the iteration bound.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		l.maxIterations = n
	}
}

// WithEventBus sets an event bus for iteration lifecycle events.
func WithEventBus(bus eventbus.EventBus) LoopOption {
	return func(l *Loop) {
		l.eventBus = bus
	}
}

// NewLoop creates a react loop around the given thinker.
func NewLoop(thinker Thinker, options ...LoopOption) *Loop {
	l := &Loop{
		thinker:       thinker,
		maxIterations: 10,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Run implements the stepflow.Reactor interface. Each iteration appends the
// model's thought, action and the resulting observation to the transcript;
// tool failures become observations rather than loop errors, so the model
// can recover. Only thinker failures and cancellation abort the run.
func (l *Loop) Run(ctx context.Context, task string, registry *stepflow.ToolRegistry) (string, error) {
	if l.thinker == nil {
		return "", stepflow.NewConfigurationError("react loop requires a thinker", nil)
	}

	var transcript strings.Builder
	transcript.WriteString(l.buildPreamble(registry))
	fmt.Fprintf(&transcript, "Question: %s\n\n", task)

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return "", stepflow.NewCancelledError("react", ctx.Err())
		default:
		}

		l.publish(ctx, eventbus.EventReactIterationStarted, task, map[string]interface{}{
			"iteration":      iteration,
			"max_iterations": l.maxIterations,
		})

		response, err := l.thinker.Think(ctx, transcript.String())
		if err != nil {
			return "", stepflow.NewInternalError("react", "model call failed", err)
		}

		decision := ParseDecision(response)

		switch decision.Kind {
		case DecisionFinalAnswer:
			l.publish(ctx, eventbus.EventReactLoopFinished, task, map[string]interface{}{
				"iterations": iteration,
				"answer":     decision.Answer,
			})
			return decision.Answer, nil

		case DecisionToolAction:
			fmt.Fprintf(&transcript, "Thought: %s\n", decision.Thought)
			fmt.Fprintf(&transcript, "Action: %s\n", decision.ToolName)
			fmt.Fprintf(&transcript, "Action Input: %s\n", renderInput(decision.ToolInput))

			observation := l.invoke(ctx, registry, decision)
			fmt.Fprintf(&transcript, "Observation: %s\n", observation)

			l.publish(ctx, eventbus.EventReactIterationCompleted, task, map[string]interface{}{
				"iteration":   iteration,
				"tool":        decision.ToolName,
				"observation": observation,
			})

		case DecisionUnparsed:
			fmt.Fprintf(&transcript, "Thought: %s\n", decision.Thought)
			transcript.WriteString("Observation: Your last response did not follow the required format. Respond with Thought, Action and Action Input lines, where Action Input is a JSON object.\n")

			l.publish(ctx, eventbus.EventReactIterationCompleted, task, map[string]interface{}{
				"iteration": iteration,
				"unparsed":  true,
			})
		}
	}

	l.publish(ctx, eventbus.EventReactLoopFinished, task, map[string]interface{}{
		"iterations":      l.maxIterations,
		"limit_exhausted": true,
	})
	return iterationLimitAnswer, nil
}

// invoke runs one tool action and renders the observation text.
func (l *Loop) invoke(ctx context.Context, registry *stepflow.ToolRegistry, decision Decision) string {
	result, err := registry.Invoke(ctx, decision.ToolName, decision.ToolInput)
	if err != nil {
		if stepflow.IsCode(err, stepflow.ErrCodeToolNotFound) {
			return fmt.Sprintf("Error: Tool '%s' not found. Available tools: %v",
				decision.ToolName, registry.Names())
		}
		return fmt.Sprintf("Error executing %s: %v", decision.ToolName, err)
	}
	return fmt.Sprintf("%v", result)
}

// buildPreamble renders the format instructions and tool catalog.
func (l *Loop) buildPreamble(registry *stepflow.ToolRegistry) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI assistant that uses tools to accomplish tasks.\n\n")
	b.WriteString("You MUST follow this EXACT format for each step:\n\n")
	b.WriteString("Thought: [Think about what to do next]\n")
	b.WriteString("Action: [Name of the tool to use]\n")
	b.WriteString("Action Input: [JSON object with tool parameters]\n\n")
	b.WriteString("After you use a tool, I will provide:\nObservation: [Result from the tool]\n\n")
	b.WriteString("When you have enough information to answer:\n")
	b.WriteString("Thought: I now know the final answer\n")
	b.WriteString("Action: Final Answer\n")
	b.WriteString("Action Input: {\"answer\": \"your final answer here\"}\n\n")
	b.WriteString("AVAILABLE TOOLS:\n")
	b.WriteString(planner.RenderToolCatalog(registry.Schemas()))
	b.WriteString("\nLet's begin!\n\n")
	return b.String()
}

func renderInput(input map[string]interface{}) string {
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (l *Loop) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, "ReactLoop", metadata))
}
