package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/fabrica/llm"
)

// ContextProvider supplies extra planning context (reference documents,
// fetched web content). It is consulted once per planning call.
type ContextProvider func() string

// LLMPlanner produces plans by asking the configured model for an ordered
// JSON step list.
type LLMPlanner struct {
	client  *llm.Client
	context ContextProvider
	logger  *slog.Logger
}

// PlannerOption configures an LLMPlanner.
type PlannerOption func(*LLMPlanner)

// WithPlannerContext sets a provider for extra planning context.
func WithPlannerContext(p ContextProvider) PlannerOption {
	return func(pl *LLMPlanner) {
		pl.context = p
	}
}

// WithPlannerLogger sets the logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(pl *LLMPlanner) {
		pl.logger = logger
	}
}

// NewLLMPlanner creates a planner backed by the given LLM client.
func NewLLMPlanner(client *llm.Client, opts ...PlannerOption) *LLMPlanner {
	p := &LLMPlanner{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanArtifact asks the model for an ordered step list for the brief.
func (p *LLMPlanner) PlanArtifact(ctx context.Context, brief, name string) (Plan, error) {
	extra := ""
	if p.context != nil {
		extra = p.context()
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt()},
			{Role: "user", Content: plannerUserPrompt(brief, name, extra)},
		},
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planning request: %w", err)
	}

	plan, err := parsePlan(resp.Content)
	if err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}

	p.logger.Info("Plan generated",
		"steps", len(plan.Steps),
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens)

	return plan, nil
}

// parsePlan extracts and validates the step list from a model response.
// Missing step IDs are filled in positionally so downstream frames always
// carry a usable identifier.
func parsePlan(content string) (Plan, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return Plan{}, fmt.Errorf("response contained no JSON object")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("unmarshal steps: %w", err)
	}

	if len(plan.Steps) == 0 {
		return Plan{}, fmt.Errorf("plan contained no steps")
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		if strings.TrimSpace(step.Label) == "" {
			step.Label = step.ID
		}
		step.Status = StepStatusPending
	}

	return plan, nil
}
