package planner

import (
	"testing"

	"github.com/edujuan/stepflow"
)

func TestParsePlan_WellFormed(t *testing.T) {
	text := `[
  {"id": 1, "description": "add the numbers", "tool": "calculator", "input": {"expression": "5 + 3"}, "depends_on": []},
  {"id": 2, "description": "double the sum", "tool": "calculator", "input": {"expression": "$step1 * 2"}, "depends_on": [1]}
]`
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	step2, ok := plan.Step(2)
	if !ok {
		t.Fatalf("expected step 2 in the plan")
	}
	if step2.ToolName != "calculator" {
		t.Errorf("unexpected tool: %s", step2.ToolName)
	}
	if len(step2.DependsOn) != 1 || step2.DependsOn[0] != 1 {
		t.Errorf("unexpected dependencies: %v", step2.DependsOn)
	}
}

func TestParsePlan_MarkdownFences(t *testing.T) {
	text := "Here is the plan:\n```json\n[{\"id\": 1, \"tool\": \"search\", \"input\": {\"q\": \"go\"}}]\n```\nDone."
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
}

func TestParsePlan_MarkerImpliesDependency(t *testing.T) {
	// The model forgot depends_on, but the marker still wires the edge.
	text := `[
  {"id": 1, "tool": "fetch", "input": {"url": "https://example.com"}},
  {"id": 2, "tool": "summarize", "input": {"text": "$step1"}}
]`
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step2, _ := plan.Step(2)
	if len(step2.DependsOn) != 1 || step2.DependsOn[0] != 1 {
		t.Errorf("expected implied dependency on step 1, got %v", step2.DependsOn)
	}
	if step2.Input["text"].Type != stepflow.InputStepRef {
		t.Errorf("expected a step reference input, got %s", step2.Input["text"].Type)
	}
}

func TestParsePlan_NestedMarkerStaysLiteral(t *testing.T) {
	text := `[
  {"id": 1, "tool": "fetch", "input": {"url": "https://example.com"}},
  {"id": 2, "tool": "report", "input": {"message": "summary of $step1 follows"}}
]`
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step2, _ := plan.Step(2)
	if step2.Input["message"].Type != stepflow.InputLiteral {
		t.Errorf("embedded marker must stay a literal, got %s", step2.Input["message"].Type)
	}
	if len(step2.DependsOn) != 1 {
		t.Errorf("embedded marker must still imply the dependency, got %v", step2.DependsOn)
	}
}

func TestParsePlan_ExpressionPrefix(t *testing.T) {
	text := `[
  {"id": 1, "tool": "count", "input": {}},
  {"id": 2, "tool": "report", "input": {"total": "expr: $step1 + 10"}}
]`
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step2, _ := plan.Step(2)
	src := step2.Input["total"]
	if src.Type != stepflow.InputExpression {
		t.Fatalf("expected an expression input, got %s", src.Type)
	}
	if src.Expression != "$step1 + 10" {
		t.Errorf("unexpected expression: %q", src.Expression)
	}
}

func TestParsePlan_Malformed(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no json", "I cannot produce a plan for this task."},
		{"truncated", `[{"id": 1, "tool": "x"`},
		{"empty array", "[]"},
		{"missing tool", `[{"id": 1, "input": {}}]`},
		{"duplicate ids", `[{"id": 1, "tool": "a"}, {"id": 1, "tool": "b"}]`},
		{"dangling dependency", `[{"id": 1, "tool": "a", "depends_on": [9]}]`},
		{"cycle", `[{"id": 1, "tool": "a", "depends_on": [2]}, {"id": 2, "tool": "b", "depends_on": [1]}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePlan(tc.text)
			if err == nil {
				t.Fatalf("expected a parsing error")
			}
			if !stepflow.IsCode(err, stepflow.ErrCodePlanParsing) {
				t.Errorf("expected %s, got %v", stepflow.ErrCodePlanParsing, err)
			}
		})
	}
}
