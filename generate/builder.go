package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360studio/fabrica/llm"
)

// fallbackQualityScore is used when the final review call fails; the
// artifact is still delivered, with a warning instead of a hard failure.
const fallbackQualityScore = 70

// LLMBuilder executes a plan step by step, generating each step's files with
// the configured model and reporting progress through the Build callbacks.
type LLMBuilder struct {
	client *llm.Client
	logger *slog.Logger
}

// BuilderOption configures an LLMBuilder.
type BuilderOption func(*LLMBuilder)

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *LLMBuilder) {
		b.logger = logger
	}
}

// NewLLMBuilder creates a builder backed by the given LLM client.
func NewLLMBuilder(client *llm.Client, opts ...BuilderOption) *LLMBuilder {
	b := &LLMBuilder{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the plan's steps in order. For each step it invokes onProgress
// with the step label, generates that step's files, and invokes onFile per
// produced file. Callbacks are synchronous and sequential. After the last
// step the full artifact is reviewed for a quality score.
func (b *LLMBuilder) Build(ctx context.Context, brief, name string, plan Plan,
	onProgress func(label, detail string),
	onFile func(path, content string)) (*BuildResult, error) {

	files := make(map[string]string)
	var warnings []string

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if onProgress != nil {
			onProgress(step.Label, fmt.Sprintf("step %d of %d", i+1, len(plan.Steps)))
		}

		stepFiles, err := b.buildStep(ctx, brief, name, step, files)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}

		// Deterministic emission order per step
		paths := make([]string, 0, len(stepFiles))
		for p := range stepFiles {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			files[p] = stepFiles[p]
			if onFile != nil {
				onFile(p, stepFiles[p])
			}
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("build produced no files")
	}

	score, reviewWarnings, err := b.review(ctx, brief, files)
	if err != nil {
		b.logger.Warn("Quality review failed, using fallback score", "error", err)
		score = fallbackQualityScore
		warnings = append(warnings, "quality review unavailable")
	} else {
		warnings = append(warnings, reviewWarnings...)
	}

	return &BuildResult{
		Files:        files,
		QualityScore: score,
		Pages:        countPages(files),
		Warnings:     warnings,
	}, nil
}

// buildStep generates the file set for a single step.
func (b *LLMBuilder) buildStep(ctx context.Context, brief, name string, step Step, existing map[string]string) (map[string]string, error) {
	resp, err := b.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: builderSystemPrompt()},
			{Role: "user", Content: builderStepPrompt(brief, name, step, existing)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("response contained no JSON object")
	}

	var payload struct {
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	if len(payload.Files) == 0 {
		return nil, fmt.Errorf("step produced no files")
	}

	// Reject path escapes; generated paths are always artifact-relative.
	clean := make(map[string]string, len(payload.Files))
	for p, content := range payload.Files {
		p = strings.TrimPrefix(strings.TrimSpace(p), "./")
		if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
			return nil, fmt.Errorf("invalid file path %q", p)
		}
		clean[p] = content
	}

	b.logger.Debug("Step files generated",
		"step", step.ID,
		"files", len(clean),
		"tokens", resp.Usage.TotalTokens)

	return clean, nil
}

// review asks the model to score the finished artifact.
func (b *LLMBuilder) review(ctx context.Context, brief string, files map[string]string) (int, []string, error) {
	resp, err := b.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: reviewSystemPrompt()},
			{Role: "user", Content: reviewUserPrompt(brief, files)},
		},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("review request: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return 0, nil, fmt.Errorf("response contained no JSON object")
	}

	var payload struct {
		Score    int      `json:"score"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, nil, fmt.Errorf("unmarshal review: %w", err)
	}

	return clampScore(payload.Score), payload.Warnings, nil
}

// clampScore bounds a model-reported score to [0,100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// countPages counts HTML pages in the artifact.
func countPages(files map[string]string) int {
	pages := 0
	for p := range files {
		if strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".htm") {
			pages++
		}
	}
	return pages
}
