package executor

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// ExpressionFunctionRegistry allows registration of custom functions for expression evaluation.
type ExpressionFunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
}

var globalExprFuncRegistry = &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterExpressionFunction allows users to register a custom function for expressions.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFuncRegistry.functions[name] = fn
}

// getWhitelistedFunctions returns only whitelisted functions for security.
// Built-in safe helpers plus anything registered by the host.
func getWhitelistedFunctions() map[string]govaluate.ExpressionFunction {
	whitelist := map[string]govaluate.ExpressionFunction{
		"len": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("len expects exactly one argument")
			}
			switch v := args[0].(type) {
			case string:
				return float64(len(v)), nil
			case []interface{}:
				return float64(len(v)), nil
			case map[string]interface{}:
				return float64(len(v)), nil
			default:
				return nil, fmt.Errorf("len does not support type %T", args[0])
			}
		},
		"lower": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("lower expects exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("lower expects a string, got %T", args[0])
			}
			return strings.ToLower(s), nil
		},
		"upper": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("upper expects exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("upper expects a string, got %T", args[0])
			}
			return strings.ToUpper(s), nil
		},
	}
	for k, v := range globalExprFuncRegistry.functions {
		whitelist[k] = v
	}
	return whitelist
}

// ValidateExpression checks if an expression is valid at plan load time.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, getWhitelistedFunctions())
	return err
}
