// Package prompt wraps Genkit prompt loading and execution behind a
// small registry type.
package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Registry manages the loading and execution of Genkit prompts.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry initializes the Genkit environment and creates a prompt registry.
// It takes Genkit initialization options, such as plugin configurations and the
// prompt directory (ai.WithPlugins(...), ai.WithPromptDir(...)).
func NewRegistry(ctx context.Context, opts ...genkit.GenkitOption) (*Registry, error) {
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}

	return &Registry{
		genkitInstance: g,
	}, nil
}

// GetPrompt retrieves a loaded prompt by its name.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// ExecutePrompt retrieves a prompt by name, renders it with the given input,
// and executes it against the configured model.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)

	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}

	return resp, nil
}

// RenderPrompt retrieves a prompt by name and renders it into
// GenerateActionOptions, allowing inspection before execution.
func (r *Registry) RenderPrompt(ctx context.Context, promptName string, input map[string]interface{}) (*ai.GenerateActionOptions, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	actionOpts, err := p.Render(ctx, ai.WithInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt '%s': %w", promptName, err)
	}

	return actionOpts, nil
}

// DefinePrompt defines a prompt programmatically instead of loading it from
// the prompt directory.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}
