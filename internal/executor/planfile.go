package executor

import (
	"fmt"
	"os"
	"strings"

	"github.com/edujuan/stepflow"
	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk YAML representation of a plan, used for canned
// plans in tests and for running a hand-written plan without a planner.
type PlanFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []PlanFileStep `yaml:"steps"`
}

// PlanFileStep is one step entry in a plan file.
type PlanFileStep struct {
	ID          int                    `yaml:"id"`
	Tool        string                 `yaml:"tool"`
	Description string                 `yaml:"description"`
	Input       map[string]interface{} `yaml:"input"`
	DependsOn   []int                  `yaml:"depends_on"`
}

// PlanFileLoader defines an interface for loading a PlanFile from a source.
type PlanFileLoader interface {
	Load(source string) (*PlanFile, error)
	Format() string // e.g., "yaml"
}

// loaderRegistry holds registered PlanFileLoaders by format name.
var loaderRegistry = make(map[string]PlanFileLoader)

// RegisterPlanFileLoader registers a new PlanFileLoader for a given format.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name (e.g., "yaml").
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	return LoadPlanFile(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPlanFileLoader(YAMLLoader{})
}

// LoadPlanFile parses a YAML plan file and returns a PlanFile struct.
func LoadPlanFile(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()
	var pf PlanFile
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &pf, nil
}

// toInputSource converts a YAML input value to a stepflow.InputSource. A
// string that is exactly a "$step{N}" marker becomes a step reference;
// everything else stays a literal (embedded markers inside longer strings
// are interpolated at resolution time).
func toInputSource(value interface{}) stepflow.InputSource {
	if s, ok := value.(string); ok {
		if m := stepRefPattern.FindStringSubmatch(s); m != nil && m[0] == s {
			var id int
			fmt.Sscanf(m[1], "%d", &id)
			return stepflow.StepRefInput(id)
		}
		if expr, ok := strings.CutPrefix(s, "expr:"); ok {
			return stepflow.ExpressionInput(strings.TrimSpace(expr))
		}
	}
	return stepflow.LiteralInput(value)
}

// ToPlan converts a PlanFile to a stepflow.Plan.
func (pf *PlanFile) ToPlan() *stepflow.Plan {
	steps := make([]stepflow.PlanStep, 0, len(pf.Steps))
	for _, fileStep := range pf.Steps {
		input := make(map[string]stepflow.InputSource, len(fileStep.Input))
		for k, v := range fileStep.Input {
			input[k] = toInputSource(v)
		}
		steps = append(steps, stepflow.PlanStep{
			ID:          fileStep.ID,
			Description: fileStep.Description,
			ToolName:    fileStep.Tool,
			Input:       input,
			DependsOn:   fileStep.DependsOn,
		})
	}
	return stepflow.NewPlan(steps)
}

// LoadAndValidatePlan loads a plan file using the default loader (YAML),
// validates the step graph, and returns a Plan ready for execution.
func LoadAndValidatePlan(path string) (*stepflow.Plan, error) {
	loader, ok := GetPlanFileLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML plan loader registered")
	}

	planFile, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	plan := planFile.ToPlan()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
