// Package planner turns a task and a tool catalog into a validated plan via
// a model prompt, and synthesizes final answers from execution reports.
package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/edujuan/stepflow"
)

// stepRefPattern matches the reserved "$step{N}" output reference marker.
var stepRefPattern = regexp.MustCompile(`\$step([0-9]+)`)

// planStepJSON is the wire format the model is instructed to emit.
type planStepJSON struct {
	ID          int                    `json:"id"`
	Description string                 `json:"description"`
	Tool        string                 `json:"tool"`
	Input       map[string]interface{} `json:"input"`
	DependsOn   []int                  `json:"depends_on"`
}

// ParsePlan parses the model's JSON plan output into a validated Plan.
// Parsing is strict: malformed JSON, an empty step list, a missing tool
// name, duplicate IDs, dangling dependencies and cycles are all rejected,
// so a bad plan costs a replanning round instead of tool invocations.
func ParsePlan(text string) (*stepflow.Plan, error) {
	payload, err := extractJSONArray(text)
	if err != nil {
		return nil, stepflow.NewPlanParsingError("plan output contains no JSON array", err)
	}

	var raw []planStepJSON
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, stepflow.NewPlanParsingError("failed to decode plan JSON", err)
	}
	if len(raw) == 0 {
		return nil, stepflow.NewPlanParsingError("plan contains no steps", nil)
	}

	steps := make([]stepflow.PlanStep, 0, len(raw))
	for _, rs := range raw {
		if rs.Tool == "" {
			return nil, stepflow.NewPlanParsingError(
				fmt.Sprintf("step %d has no tool name", rs.ID), nil)
		}

		input := make(map[string]stepflow.InputSource, len(rs.Input))
		deps := map[int]struct{}{}
		for _, dep := range rs.DependsOn {
			deps[dep] = struct{}{}
		}
		for argName, value := range rs.Input {
			source := toInputSource(value)
			input[argName] = source
			// A reference marker implies a dependency even when the model
			// forgot to list it.
			for _, ref := range collectRefs(value) {
				deps[ref] = struct{}{}
			}
		}

		dependsOn := make([]int, 0, len(deps))
		for dep := range deps {
			dependsOn = append(dependsOn, dep)
		}
		sort.Ints(dependsOn)

		steps = append(steps, stepflow.PlanStep{
			ID:          rs.ID,
			Description: rs.Description,
			ToolName:    rs.Tool,
			Input:       input,
			DependsOn:   dependsOn,
		})
	}

	plan := stepflow.NewPlan(steps)
	if err := plan.Validate(); err != nil {
		return nil, stepflow.NewPlanParsingError("generated plan failed validation", err)
	}
	return plan, nil
}

// extractJSONArray strips markdown fences and surrounding prose, returning
// the outermost JSON array in the text.
func extractJSONArray(text string) (string, error) {
	cleaned := strings.TrimSpace(text)
	if strings.Contains(cleaned, "```") {
		cleaned = strings.ReplaceAll(cleaned, "```json", "```")
		parts := strings.Split(cleaned, "```")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if strings.HasPrefix(trimmed, "[") {
				cleaned = trimmed
				break
			}
		}
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON array delimiters found")
	}
	return cleaned[start : end+1], nil
}

// toInputSource converts a decoded JSON input value to an InputSource. A
// string that is exactly a "$step{N}" marker becomes a step reference; an
// "expr:" prefix marks an expression; everything else stays a literal.
func toInputSource(value interface{}) stepflow.InputSource {
	if s, ok := value.(string); ok {
		if m := stepRefPattern.FindStringSubmatch(s); m != nil && m[0] == s {
			id, err := strconv.Atoi(m[1])
			if err == nil {
				return stepflow.StepRefInput(id)
			}
		}
		if expr, ok := strings.CutPrefix(s, "expr:"); ok {
			return stepflow.ExpressionInput(strings.TrimSpace(expr))
		}
	}
	return stepflow.LiteralInput(value)
}

// collectRefs returns the step IDs referenced by "$step{N}" markers anywhere
// inside the value, including nested maps and slices.
func collectRefs(value interface{}) []int {
	var refs []int
	switch v := value.(type) {
	case string:
		for _, m := range stepRefPattern.FindAllStringSubmatch(v, -1) {
			if id, err := strconv.Atoi(m[1]); err == nil {
				refs = append(refs, id)
			}
		}
	case map[string]interface{}:
		for _, elem := range v {
			refs = append(refs, collectRefs(elem)...)
		}
	case []interface{}:
		for _, elem := range v {
			refs = append(refs, collectRefs(elem)...)
		}
	}
	return refs
}
