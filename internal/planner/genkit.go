package planner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/prompt"
)

// GenkitPlanner implements stepflow.Planner on top of a Genkit prompt.
// Generated plan text is cached keyed by task and tool catalog; replanning
// rounds bypass the cache since they depend on the prior report.
type GenkitPlanner struct {
	prompts    *prompt.Registry
	promptName string
	cache      stepflow.Cache
}

// GenkitPlannerOption configures a GenkitPlanner.
type GenkitPlannerOption func(*GenkitPlanner)

// WithPromptName overrides the default "planner" prompt name.
func WithPromptName(name string) GenkitPlannerOption {
	return func(p *GenkitPlanner) {
		p.promptName = name
	}
}

// WithCache enables plan caching.
func WithCache(cache stepflow.Cache) GenkitPlannerOption {
	return func(p *GenkitPlanner) {
		p.cache = cache
	}
}

// NewGenkitPlanner creates a planner backed by the given prompt registry.
func NewGenkitPlanner(prompts *prompt.Registry, options ...GenkitPlannerOption) *GenkitPlanner {
	p := &GenkitPlanner{
		prompts:    prompts,
		promptName: "planner",
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// CreatePlan implements the stepflow.Planner interface.
func (p *GenkitPlanner) CreatePlan(ctx context.Context, input stepflow.PlannerInput) (*stepflow.Plan, error) {
	if p.prompts == nil {
		return nil, stepflow.NewConfigurationError("planner prompt registry is not configured", nil)
	}

	cacheKey := p.cacheKey(input)
	isReplan := input.PriorReport != nil

	if !isReplan && p.cache != nil {
		if cached, err := p.cache.Get(ctx, cacheKey); err == nil {
			if text, ok := cached.(string); ok {
				if plan, parseErr := ParsePlan(text); parseErr == nil {
					log.Printf("Using cached plan (key: %s)", cacheKey)
					return plan, nil
				}
			}
		}
	}

	resp, err := p.prompts.ExecutePrompt(ctx, p.promptName, BuildPlanningInput(input))
	if err != nil {
		return nil, stepflow.NewPlanGenerationError(err)
	}

	text := resp.Text()
	plan, err := ParsePlan(text)
	if err != nil {
		return nil, err
	}

	// Cache the raw plan text rather than the Plan struct: text survives
	// serialization and re-parses into a fresh Plan with clean step state.
	if !isReplan && p.cache != nil {
		if err := p.cache.Set(ctx, cacheKey, text); err != nil {
			log.Printf("Failed to cache plan: %v", err)
		}
	}

	return plan, nil
}

// cacheKey creates a stable key for caching planner results.
func (p *GenkitPlanner) cacheKey(input stepflow.PlannerInput) string {
	cacheableInput := struct {
		Task  string `json:"task"`
		Tools string `json:"tools"`
	}{
		Task:  input.Task,
		Tools: RenderToolCatalog(input.ToolSchemas),
	}

	inputBytes, err := json.Marshal(cacheableInput)
	if err != nil {
		log.Printf("Failed to marshal planner input for cache key: %v", err)
		return "planner:" + input.Task
	}

	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "planner:" + hex.EncodeToString(hasher.Sum(nil))
}
