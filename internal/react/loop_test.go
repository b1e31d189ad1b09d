package react

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edujuan/stepflow"
)

type mockTool struct {
	name     string
	execFunc func(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

func (m *mockTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	return m.execFunc(ctx, input)
}
func (m *mockTool) Schema() map[string]interface{} {
	return map[string]interface{}{"description": "mock"}
}
func (m *mockTool) Validate(input map[string]interface{}) error { return nil }
func (m *mockTool) Name() string                                { return m.name }

// scriptedThinker replays a fixed sequence of model responses.
type scriptedThinker struct {
	responses   []string
	transcripts []string
}

func (s *scriptedThinker) Think(ctx context.Context, transcript string) (string, error) {
	s.transcripts = append(s.transcripts, transcript)
	if len(s.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

func newReactRegistry(t *testing.T, tools ...stepflow.Tool) *stepflow.ToolRegistry {
	t.Helper()
	registry := stepflow.NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("failed to register %s: %v", tool.Name(), err)
		}
	}
	return registry
}

func TestLoop_WeatherScenario(t *testing.T) {
	weather := &mockTool{name: "get_weather", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		if input["location"] == "Paris" {
			return map[string]interface{}{"temp": 18, "condition": "cloudy"}, nil
		}
		return map[string]interface{}{"error": "unknown location"}, nil
	}}
	registry := newReactRegistry(t, weather)

	thinker := &scriptedThinker{responses: []string{
		"Thought: I need the current weather in Paris\nAction: get_weather\nAction Input: {\"location\": \"Paris\"}",
		"Thought: I now know the final answer\nAction: Final Answer\nAction Input: {\"answer\": \"It is 18 degrees and cloudy in Paris.\"}",
	}}
	loop := NewLoop(thinker)

	answer, err := loop.Run(context.Background(), "What's the weather in Paris?", registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "It is 18 degrees and cloudy in Paris." {
		t.Errorf("unexpected answer: %q", answer)
	}

	// The second model call must see the first observation.
	if len(thinker.transcripts) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(thinker.transcripts))
	}
	if !strings.Contains(thinker.transcripts[1], "Observation: map[") {
		t.Errorf("second transcript missing the observation:\n%s", thinker.transcripts[1])
	}
	if !strings.Contains(thinker.transcripts[0], "Question: What's the weather in Paris?") {
		t.Errorf("transcript missing the question:\n%s", thinker.transcripts[0])
	}
}

func TestLoop_ToolErrorBecomesObservation(t *testing.T) {
	failing := &mockTool{name: "lookup", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return nil, errors.New("backend unavailable")
	}}
	registry := newReactRegistry(t, failing)

	thinker := &scriptedThinker{responses: []string{
		"Thought: try the lookup\nAction: lookup\nAction Input: {\"key\": \"x\"}",
		"Thought: the tool failed, I answer from what I know\nAction: Final Answer\nAction Input: {\"answer\": \"I could not look that up.\"}",
	}}
	loop := NewLoop(thinker)

	answer, err := loop.Run(context.Background(), "look up x", registry)
	if err != nil {
		t.Fatalf("tool failure must not abort the loop: %v", err)
	}
	if answer != "I could not look that up." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if !strings.Contains(thinker.transcripts[1], "Error executing lookup") {
		t.Errorf("expected the failure as an observation:\n%s", thinker.transcripts[1])
	}
}

func TestLoop_UnknownToolObservation(t *testing.T) {
	known := &mockTool{name: "known", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}}
	registry := newReactRegistry(t, known)

	thinker := &scriptedThinker{responses: []string{
		"Thought: use a tool that does not exist\nAction: imaginary\nAction Input: {}",
		"Thought: done\nAction: Final Answer\nAction Input: {\"answer\": \"done\"}",
	}}
	loop := NewLoop(thinker)

	if _, err := loop.Run(context.Background(), "task", registry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(thinker.transcripts[1], "Error: Tool 'imaginary' not found") {
		t.Errorf("expected a not-found observation:\n%s", thinker.transcripts[1])
	}
}

func TestLoop_UnparsedResponseGetsCorrectiveObservation(t *testing.T) {
	registry := newReactRegistry(t, &mockTool{name: "noop", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return nil, nil
	}})

	thinker := &scriptedThinker{responses: []string{
		"The answer is probably 42 but let me think about it some more.",
		"Thought: ok\nAction: Final Answer\nAction Input: {\"answer\": \"42\"}",
	}}
	loop := NewLoop(thinker)

	answer, err := loop.Run(context.Background(), "task", registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "42" {
		t.Errorf("unexpected answer: %q", answer)
	}
	if !strings.Contains(thinker.transcripts[1], "did not follow the required format") {
		t.Errorf("expected a corrective observation:\n%s", thinker.transcripts[1])
	}
	// The malformed response survives as the thought, so the next reasoning
	// call still sees what the model said.
	if !strings.Contains(thinker.transcripts[1], "The answer is probably 42 but let me think about it some more.") {
		t.Errorf("expected the raw response in the next transcript:\n%s", thinker.transcripts[1])
	}
}

func TestLoop_IterationLimit(t *testing.T) {
	registry := newReactRegistry(t, &mockTool{name: "spin", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return "spinning", nil
	}})

	thinker := &scriptedThinker{responses: []string{
		"Thought: spin\nAction: spin\nAction Input: {}",
		"Thought: spin\nAction: spin\nAction Input: {}",
		"Thought: spin\nAction: spin\nAction Input: {}",
	}}
	loop := NewLoop(thinker, WithMaxIterations(3))

	answer, err := loop.Run(context.Background(), "never finish", registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != iterationLimitAnswer {
		t.Errorf("expected the iteration limit answer, got %q", answer)
	}
}

func TestLoop_ZeroIterations(t *testing.T) {
	registry := newReactRegistry(t, &mockTool{name: "noop", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return nil, nil
	}})

	thinker := &scriptedThinker{responses: []string{"Thought: never called\nAction: noop\nAction Input: {}"}}
	loop := NewLoop(thinker, WithMaxIterations(0))

	answer, err := loop.Run(context.Background(), "task", registry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != iterationLimitAnswer {
		t.Errorf("expected the iteration limit answer, got %q", answer)
	}
	if len(thinker.transcripts) != 0 {
		t.Errorf("the thinker must not be called with a zero iteration bound")
	}
}

func TestLoop_ThinkerErrorAborts(t *testing.T) {
	registry := newReactRegistry(t, &mockTool{name: "noop", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return nil, nil
	}})

	loop := NewLoop(ThinkerFunc(func(ctx context.Context, transcript string) (string, error) {
		return "", errors.New("model unavailable")
	}))

	if _, err := loop.Run(context.Background(), "task", registry); err == nil {
		t.Fatalf("expected an error when the thinker fails")
	}
}
