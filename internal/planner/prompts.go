package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edujuan/stepflow"
)

// BuildPlanningInput renders the template input for the planning prompt.
// Replanning rounds additionally carry the prior attempt's report so the
// model can route around what failed.
func BuildPlanningInput(in stepflow.PlannerInput) map[string]interface{} {
	input := map[string]interface{}{
		"task":  in.Task,
		"tools": RenderToolCatalog(in.ToolSchemas),
	}
	if in.PriorReport != nil {
		input["is_replan"] = true
		input["prior_results"] = in.PriorReport.Summary()
	} else {
		input["is_replan"] = false
		input["prior_results"] = ""
	}
	return input
}

// BuildSynthesisInput renders the template input for the synthesis prompt.
func BuildSynthesisInput(task string, report *stepflow.ExecutionReport, partial bool) map[string]interface{} {
	results := ""
	if report != nil {
		results = report.Summary()
	}
	return map[string]interface{}{
		"task":    task,
		"results": results,
		"partial": partial,
	}
}

// RenderToolCatalog renders tool schemas as a stable plain-text catalog for
// prompt templates, sorted by tool name.
func RenderToolCatalog(schemas map[string]map[string]interface{}) string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		schema := schemas[name]
		desc, _ := schema["description"].(string)
		fmt.Fprintf(&b, "- %s: %s\n", name, desc)

		params := normalizeParams(schema["parameters"])
		if len(params) == 0 {
			continue
		}
		paramNames := make([]string, 0, len(params))
		for p := range params {
			paramNames = append(paramNames, p)
		}
		sort.Strings(paramNames)
		for _, p := range paramNames {
			fmt.Fprintf(&b, "    %s: %v\n", p, params[p])
		}
	}
	return b.String()
}

// normalizeParams accepts both parameter map shapes found in tool schemas.
func normalizeParams(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case map[string]string:
		out := make(map[string]interface{}, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	}
	return nil
}
