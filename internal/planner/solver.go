package planner

import (
	"context"
	"errors"
	"strings"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/prompt"
)

// GenkitSolver implements stepflow.Solver on top of a Genkit prompt. The
// same prompt handles full successes and partial failures; the partial flag
// tells the template to acknowledge what could not be completed.
type GenkitSolver struct {
	prompts    *prompt.Registry
	promptName string
}

// GenkitSolverOption configures a GenkitSolver.
type GenkitSolverOption func(*GenkitSolver)

// WithSolverPromptName overrides the default "solver" prompt name.
func WithSolverPromptName(name string) GenkitSolverOption {
	return func(s *GenkitSolver) {
		s.promptName = name
	}
}

// NewGenkitSolver creates a solver backed by the given prompt registry.
func NewGenkitSolver(prompts *prompt.Registry, options ...GenkitSolverOption) *GenkitSolver {
	s := &GenkitSolver{
		prompts:    prompts,
		promptName: "solver",
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Synthesize implements the stepflow.Solver interface.
func (s *GenkitSolver) Synthesize(ctx context.Context, task string, report *stepflow.ExecutionReport, partial bool) (string, error) {
	if s.prompts == nil {
		return "", stepflow.NewConfigurationError("solver prompt registry is not configured", nil)
	}

	resp, err := s.prompts.ExecutePrompt(ctx, s.promptName, BuildSynthesisInput(task, report, partial))
	if err != nil {
		return "", stepflow.NewSynthesisError(err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", stepflow.NewSynthesisError(errors.New("model returned an empty answer"))
	}
	return answer, nil
}
