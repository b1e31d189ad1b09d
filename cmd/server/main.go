package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/joho/godotenv"

	"github.com/edujuan/stepflow"
	"github.com/edujuan/stepflow/internal/cache"
	"github.com/edujuan/stepflow/internal/executor"
	"github.com/edujuan/stepflow/internal/planner"
	"github.com/edujuan/stepflow/internal/prompt"
	"github.com/edujuan/stepflow/internal/react"
	"github.com/edujuan/stepflow/internal/tools"
)

const plannerPromptTemplate = `You are a planning assistant. Given a task and a list of tools,
produce a step-by-step plan as a JSON array.

Each step is an object with these fields:
- "id": integer step number, starting at 1
- "tool": the name of one of the available tools
- "description": what the step accomplishes
- "input": an object with the tool's arguments
- "depends_on": array of ids of steps whose output this step needs

To use the result of an earlier step as an argument, write the marker
"$stepN" (for example "$step1") as the argument value.

Available tools:
{{tools}}

{{#if is_replan}}
A previous plan was attempted and partially failed. Results so far:
{{prior_results}}

Produce a corrected plan that works around the failures.
{{/if}}

Task: {{task}}

Respond with ONLY the JSON array, no other text.`

const solverPromptTemplate = `You are a helpful assistant. A task was broken into steps and
executed. Use the step results to answer the original task.

{{#if partial}}
Some steps failed, so the results are incomplete. Answer as best you
can from what succeeded, and say what could not be determined.
{{/if}}

Task: {{task}}

Step results:
{{results}}

Answer:`

const reactPromptTemplate = `{{transcript}}`

func main() {
	ctx := context.Background()

	// Load .env if present, real environments set variables directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set.")
	}

	model := os.Getenv("STEPFLOW_MODEL")
	if model == "" {
		model = "googleai/gemini-2.0-flash"
	}

	prompts, err := prompt.NewRegistry(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(model),
	)
	if err != nil {
		log.Fatalf("Genkit initialization failed: %v", err)
	}

	for name, template := range map[string]string{
		"planner": plannerPromptTemplate,
		"solver":  solverPromptTemplate,
		"react":   reactPromptTemplate,
	} {
		if _, err := prompts.DefinePrompt(name, ai.WithPrompt(template)); err != nil {
			log.Fatalf("Failed to define prompt %q: %v", name, err)
		}
	}

	planCache := cache.NewInMemoryCache(10 * time.Minute)
	defer planCache.Close()

	genkitPlanner := planner.NewGenkitPlanner(prompts,
		planner.WithCache(planCache),
	)
	genkitSolver := planner.NewGenkitSolver(prompts)

	planExecutor := executor.NewPlanExecutor(
		executor.WithMaxWorkers(5),
		executor.WithStepTimeout(time.Minute),
	)

	reactLoop := react.NewLoop(react.NewGenkitThinker(prompts, ""),
		react.WithMaxIterations(10),
	)

	flow, err := stepflow.New(ctx,
		stepflow.WithPlanner(genkitPlanner),
		stepflow.WithExecutor(planExecutor),
		stepflow.WithSolver(genkitSolver),
		stepflow.WithReactor(reactLoop),
		stepflow.WithTools(tools.SetupTools()),
	)
	if err != nil {
		log.Fatalf("Runtime initialization failed: %v", err)
	}
	defer func() {
		if err := flow.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	queries := []string{
		"What is the weather in Paris, and what is 15% of the population of Paris?",
		"Calculate (120 + 5) * 3 and format the result as a detailed report.",
	}

	for _, query := range queries {
		log.Printf("Task: %s", query)
		answer, err := flow.Process(ctx, query)
		if err != nil {
			log.Printf("Task failed: %v", err)
			continue
		}
		log.Printf("Answer: %s", answer)
	}

	reactQuery := "What is the weather in Tokyo right now?"
	log.Printf("Task (react): %s", reactQuery)
	answer, err := flow.ProcessReact(ctx, reactQuery)
	if err != nil {
		log.Printf("Task failed: %v", err)
	} else {
		log.Printf("Answer: %s", answer)
	}
}
