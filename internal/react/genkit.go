package react

import (
	"context"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/prompt"
)

// GenkitThinker implements Thinker on top of a Genkit prompt. The prompt
// template receives the full transcript and returns the model's next
// Thought/Action block.
type GenkitThinker struct {
	prompts    *prompt.Registry
	promptName string
}

// NewGenkitThinker creates a thinker backed by the given prompt registry.
// promptName defaults to "react" when empty.
func NewGenkitThinker(prompts *prompt.Registry, promptName string) *GenkitThinker {
	if promptName == "" {
		promptName = "react"
	}
	return &GenkitThinker{
		prompts:    prompts,
		promptName: promptName,
	}
}

// Think implements the Thinker interface.
func (t *GenkitThinker) Think(ctx context.Context, transcript string) (string, error) {
	if t.prompts == nil {
		return "", stepflow.NewConfigurationError("react prompt registry is not configured", nil)
	}

	resp, err := t.prompts.ExecutePrompt(ctx, t.promptName, map[string]interface{}{
		"transcript": transcript,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
