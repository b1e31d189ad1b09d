package executor

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Knetic/govaluate"
	"github.com/edujuan/stepflow"
)

// stepRefPattern matches the reserved "$step{N}" output reference marker.
var stepRefPattern = regexp.MustCompile(`\$step([0-9]+)`)

// resolveInputs produces the concrete argument map for a step from its input
// sources and the outputs accumulated so far. An unresolvable step reference
// is not an error here: the marker text is passed through verbatim and the
// tool's own validation decides whether the invocation can proceed. Only
// expression evaluation can fail resolution outright.
func resolveInputs(step *stepflow.PlanStep, outputs *stepflow.Outputs) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(step.Input))

	for argName, source := range step.Input {
		switch source.Type {
		case stepflow.InputLiteral:
			resolved[argName] = interpolateValue(source.Value, outputs)

		case stepflow.InputStepRef:
			if value, ok := outputs.Get(source.RefID); ok {
				resolved[argName] = value
			} else {
				// Leave the raw marker in place. The referenced step
				// either failed or was never part of the plan.
				resolved[argName] = source.Raw
			}

		case stepflow.InputExpression:
			value, err := evaluateExpression(source.Expression, outputs)
			if err != nil {
				return nil, stepflow.NewArgResolutionError("execution", step.ID, argName, err)
			}
			resolved[argName] = value

		default:
			return nil, stepflow.NewArgResolutionError("execution", step.ID, argName,
				fmt.Errorf("unknown input source type '%s'", source.Type))
		}
	}

	return resolved, nil
}

// interpolateValue substitutes "$step{N}" markers inside string literals with
// the referenced step outputs. Markers without a recorded output are left in
// place. Non-string values and nested structures pass through untouched
// except for string leaves of maps and slices.
func interpolateValue(value interface{}, outputs *stepflow.Outputs) interface{} {
	switch v := value.(type) {
	case string:
		return interpolateString(v, outputs)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			out[k] = interpolateValue(elem, outputs)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = interpolateValue(elem, outputs)
		}
		return out
	default:
		return value
	}
}

func interpolateString(s string, outputs *stepflow.Outputs) interface{} {
	// A string that is exactly one marker resolves to the raw output value,
	// preserving its type instead of flattening it to text.
	if m := stepRefPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		id, err := strconv.Atoi(m[1])
		if err == nil {
			if value, ok := outputs.Get(id); ok {
				return value
			}
		}
		return s
	}

	return stepRefPattern.ReplaceAllStringFunc(s, func(marker string) string {
		m := stepRefPattern.FindStringSubmatch(marker)
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return marker
		}
		value, ok := outputs.Get(id)
		if !ok {
			return marker
		}
		return fmt.Sprintf("%v", value)
	})
}

// evaluateExpression evaluates an arithmetic or logical expression over prior
// step outputs. "$step{N}" markers become variables bound to the referenced
// outputs; a marker without a recorded output makes the evaluation fail.
func evaluateExpression(expr string, outputs *stepflow.Outputs) (interface{}, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	variables := map[string]interface{}{}
	var missing error

	replaced := stepRefPattern.ReplaceAllStringFunc(expr, func(marker string) string {
		m := stepRefPattern.FindStringSubmatch(marker)
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return marker
		}
		value, ok := outputs.Get(id)
		if !ok {
			if missing == nil {
				missing = fmt.Errorf("no recorded output for %s", marker)
			}
			return marker
		}
		varName := stepflow.OutputKey(id)
		variables[varName] = value
		return varName
	})

	if missing != nil {
		return nil, missing
	}

	evalExpr, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, getWhitelistedFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression '%s': %w", expr, err)
	}

	result, err := evalExpr.Evaluate(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", expr, err)
	}
	return result, nil
}
