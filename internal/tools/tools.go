// Package tools bundles the built-in demo tools registered by the
// example server: a calculator, a mock weather lookup, a mock database
// search, and a report formatter.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/adapters"
)

// SetupTools creates and returns a map of all built-in tools.
func SetupTools() map[string]stepflow.Tool {
	return map[string]stepflow.Tool{
		"calculator": adapters.NewGoToolAdapter(
			"calculator",
			Calculate,
			adapters.WithDescription("Evaluates a mathematical expression."),
			adapters.WithCategory("Math"),
			adapters.WithParameters(map[string]string{
				"expression": "Mathematical expression to evaluate (e.g., '5 * 9')",
			}),
			adapters.WithReturns("The result as a number."),
			adapters.WithExamples([]string{
				`calculator {"expression": "5 * 9"}`,
				`calculator {"expression": "(120 + 5) / 2"}`,
			}),
			adapters.WithValidator(requireString("expression")),
		),
		"get_weather": adapters.NewGoToolAdapter(
			"get_weather",
			GetWeather,
			adapters.WithDescription("Gets the current weather for a location."),
			adapters.WithCategory("Data"),
			adapters.WithParameters(map[string]string{
				"location": "City name to look up (e.g., 'Paris')",
				"units":    "Temperature units, 'celsius' (default) or 'fahrenheit'",
			}),
			adapters.WithReturns("Temperature and condition as a string."),
			adapters.WithExamples([]string{
				`get_weather {"location": "Paris"}`,
			}),
			adapters.WithValidator(requireString("location")),
		),
		"search_database": adapters.NewGoToolAdapter(
			"search_database",
			SearchDatabase,
			adapters.WithDescription("Searches the database for information."),
			adapters.WithCategory("Data"),
			adapters.WithParameters(map[string]string{
				"query": "Search query string",
				"table": "Table to search, defaults to 'all'",
			}),
			adapters.WithReturns("Matching records as a string, or 'No results found'."),
			adapters.WithExamples([]string{
				`search_database {"query": "population paris"}`,
			}),
			adapters.WithValidator(requireString("query")),
		),
		"format_report": adapters.NewGoToolAdapter(
			"format_report",
			FormatReport,
			adapters.WithDescription("Formats data into a report."),
			adapters.WithCategory("Formatting"),
			adapters.WithParameters(map[string]string{
				"data":  "Content to include in the report",
				"style": "Report style, 'simple' (default) or 'detailed'",
			}),
			adapters.WithReturns("The formatted report as a string."),
			adapters.WithExamples([]string{
				`format_report {"data": "$step1", "style": "detailed"}`,
			}),
			adapters.WithValidator(func(input map[string]interface{}) error {
				if input["data"] == nil {
					return fmt.Errorf("missing data argument")
				}
				return nil
			}),
		),
	}
}

// Calculate evaluates a mathematical expression from the "expression" argument.
func Calculate(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	raw, ok := input["expression"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing expression argument (expected string at key 'expression')")
	}

	expr, err := govaluate.NewEvaluableExpression(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", raw, err)
	}

	result, err := expr.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", raw, err)
	}

	value, ok := result.(float64)
	if !ok {
		return nil, fmt.Errorf("expression %q did not produce a number", raw)
	}
	return value, nil
}

var weatherData = map[string]struct {
	temp      int
	condition string
}{
	"paris":    {18, "cloudy"},
	"london":   {15, "rainy"},
	"new york": {22, "sunny"},
	"tokyo":    {25, "partly cloudy"},
}

// GetWeather returns mock weather data for a known location.
func GetWeather(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	location, ok := input["location"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing location argument (expected string at key 'location')")
	}

	units := "celsius"
	if u, ok := input["units"].(string); ok && u != "" {
		units = u
	}

	data, ok := weatherData[strings.ToLower(location)]
	if !ok {
		return nil, fmt.Errorf("weather data not available for %s", location)
	}

	unitLetter := strings.ToUpper(units[:1])
	return fmt.Sprintf("%d°%s, %s", data.temp, unitLetter, data.condition), nil
}

var databaseRecords = map[string]string{
	"population paris":    "2.1 million",
	"population london":   "9 million",
	"population new york": "8.3 million",
	"population tokyo":    "13.9 million",
}

// SearchDatabase looks up mock records matching the "query" argument.
func SearchDatabase(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	query, ok := input["query"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing query argument (expected string at key 'query')")
	}

	queryLower := strings.ToLower(query)
	for key, value := range databaseRecords {
		if strings.Contains(queryLower, key) {
			return value, nil
		}
	}
	return "No results found", nil
}

// FormatReport wraps the "data" argument in a report layout chosen by "style".
func FormatReport(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	data, ok := input["data"].(string)
	if !ok {
		// Accept non-string data by stringifying it, reports often embed
		// numeric results from earlier steps.
		if input["data"] == nil {
			return nil, fmt.Errorf("invalid or missing data argument (expected value at key 'data')")
		}
		data = fmt.Sprintf("%v", input["data"])
	}

	style := "simple"
	if s, ok := input["style"].(string); ok && s != "" {
		style = s
	}

	switch style {
	case "simple":
		return fmt.Sprintf("Report:\n%s", data), nil
	case "detailed":
		return fmt.Sprintf("=== DETAILED REPORT ===\n\n%s\n\n=== END REPORT ===", data), nil
	default:
		return data, nil
	}
}

// requireString builds a validator that checks a non-empty string argument.
func requireString(key string) func(map[string]interface{}) error {
	return func(input map[string]interface{}) error {
		value, ok := input[key]
		if !ok {
			return fmt.Errorf("missing %s argument", key)
		}
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string, got %T", key, value)
		}
		if len(str) == 0 {
			return fmt.Errorf("%s cannot be empty", key)
		}
		return nil
	}
}
