package planner

import (
	"strings"
	"testing"

	"github.com/edujuan/stepflow"
)

func TestRenderToolCatalog_SortedAndComplete(t *testing.T) {
	schemas := map[string]map[string]interface{}{
		"search": {
			"description": "search the web",
			"parameters":  map[string]interface{}{"query": "the search query"},
		},
		"calculator": {
			"description": "evaluate arithmetic",
			"parameters":  map[string]interface{}{"expression": "the expression"},
		},
	}

	catalog := RenderToolCatalog(schemas)
	calcIdx := strings.Index(catalog, "calculator")
	searchIdx := strings.Index(catalog, "search the web")
	if calcIdx == -1 || searchIdx == -1 {
		t.Fatalf("catalog missing entries:\n%s", catalog)
	}
	if calcIdx > searchIdx {
		t.Errorf("expected tools sorted by name:\n%s", catalog)
	}
	if !strings.Contains(catalog, "query") || !strings.Contains(catalog, "expression") {
		t.Errorf("catalog missing parameters:\n%s", catalog)
	}
}

func TestBuildPlanningInput_FirstAttempt(t *testing.T) {
	input := BuildPlanningInput(stepflow.PlannerInput{
		Task:        "what is 5 plus 3",
		ToolSchemas: map[string]map[string]interface{}{"calculator": {"description": "math"}},
	})

	if input["task"] != "what is 5 plus 3" {
		t.Errorf("unexpected task: %v", input["task"])
	}
	if input["is_replan"] != false {
		t.Errorf("first attempt must not be a replan")
	}
	if input["prior_results"] != "" {
		t.Errorf("first attempt must carry no prior results")
	}
}

func TestBuildPlanningInput_Replan(t *testing.T) {
	report := stepflow.NewExecutionReport()
	step := &stepflow.PlanStep{ID: 1, Description: "lookup", ToolName: "search"}
	if err := report.Add(&stepflow.ExecutionResult{Step: step, Status: stepflow.StepStatusFailed, Error: "timeout"}); err != nil {
		t.Fatalf("failed to add result: %v", err)
	}

	input := BuildPlanningInput(stepflow.PlannerInput{
		Task:        "find the population of Mars",
		ToolSchemas: map[string]map[string]interface{}{},
		PriorReport: report,
	})

	if input["is_replan"] != true {
		t.Errorf("expected a replan input")
	}
	prior, _ := input["prior_results"].(string)
	if !strings.Contains(prior, "timeout") {
		t.Errorf("prior results must carry the failure detail: %q", prior)
	}
}

func TestBuildSynthesisInput(t *testing.T) {
	report := stepflow.NewExecutionReport()
	step := &stepflow.PlanStep{ID: 1, Description: "add", ToolName: "calculator"}
	if err := report.Add(&stepflow.ExecutionResult{Step: step, Status: stepflow.StepStatusSucceeded, Output: 8}); err != nil {
		t.Fatalf("failed to add result: %v", err)
	}

	input := BuildSynthesisInput("what is 5 plus 3", report, true)
	if input["partial"] != true {
		t.Errorf("partial flag must pass through")
	}
	results, _ := input["results"].(string)
	if !strings.Contains(results, "[ok] step 1") {
		t.Errorf("results must render the report summary: %q", results)
	}
}
