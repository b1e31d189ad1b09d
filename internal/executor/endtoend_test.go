package executor

import (
	"context"
	"os"
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

func writeTempPlan(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "plan-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := tmpFile.Write([]byte(yaml)); err != nil {
		t.Fatalf("failed to write plan yaml: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestEndToEnd_YAMLPlanToReport_Success(t *testing.T) {
	planYAML := `
name: echo-chain
steps:
  - id: 1
    tool: echo
    description: produce a value
    input:
      x: 1
  - id: 2
    tool: echo
    description: consume the previous output
    input:
      y: $step1
    depends_on: [1]
`
	path := writeTempPlan(t, planYAML)

	registry := newTestRegistry(t, map[string]stepflow.Tool{
		"echo": &mockTool{name: "echo", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return input, nil
		}},
	})
	executor := NewPlanExecutor(WithMaxWorkers(2))

	plan, err := LoadAndValidatePlan(path)
	if err != nil {
		t.Fatalf("LoadAndValidatePlan failed: %v", err)
	}
	report, outputs, err := executor.ExecutePlan(context.Background(), plan, registry)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if !report.AllSucceeded() {
		t.Fatalf("expected success: %s", report.Summary())
	}

	out2, ok := outputs.Get(2)
	if !ok {
		t.Fatalf("expected output for step 2")
	}
	// Step 2 received step 1's full output through the reference marker.
	y, ok := out2.(map[string]interface{})["y"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected resolved step reference, got %v", out2)
	}
	if y["x"] != 1 {
		t.Errorf("unexpected referenced output: %v", y["x"])
	}
}

func TestEndToEnd_YAMLPlan_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "dangling dependency",
			yaml: `
steps:
  - id: 1
    tool: echo
    depends_on: [9]
`,
		},
		{
			name: "duplicate id",
			yaml: `
steps:
  - id: 1
    tool: echo
  - id: 1
    tool: echo
`,
		},
		{
			name: "cycle",
			yaml: `
steps:
  - id: 1
    tool: echo
    depends_on: [2]
  - id: 2
    tool: echo
    depends_on: [1]
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempPlan(t, tc.yaml)
			if _, err := LoadAndValidatePlan(path); err == nil {
				t.Fatalf("expected validation to fail")
			}
		})
	}
}

func TestEndToEnd_YAMLPlan_ExpressionInput(t *testing.T) {
	planYAML := `
steps:
  - id: 1
    tool: constant
    input: {}
  - id: 2
    tool: echo
    input:
      doubled: "expr: $step1 * 2"
    depends_on: [1]
`
	path := writeTempPlan(t, planYAML)

	registry := newTestRegistry(t, map[string]stepflow.Tool{
		"constant": &mockTool{name: "constant", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return float64(21), nil
		}},
		"echo": &mockTool{name: "echo", execFunc: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return input["doubled"], nil
		}},
	})
	executor := NewPlanExecutor()

	plan, err := LoadAndValidatePlan(path)
	if err != nil {
		t.Fatalf("LoadAndValidatePlan failed: %v", err)
	}
	_, outputs, err := executor.ExecutePlan(context.Background(), plan, registry)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	out, _ := outputs.Get(2)
	if out != float64(42) {
		t.Errorf("expected 42, got %v", out)
	}
}
