package generate

import (
	"fmt"
	"sort"
	"strings"
)

// plannerSystemPrompt returns the system prompt for the planning call.
func plannerSystemPrompt() string {
	return `You are planning the construction of a small multi-file web artifact
(a static site or single-page app) from a client brief.

## Your Objective

Break the work into 3-7 ordered build steps. Each step must name the output
file(s) that mark its completion.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "steps": [
    {"id": "step-1", "label": "Page structure", "files": ["index.html"]},
    {"id": "step-2", "label": "Styling", "files": ["styles.css"]},
    {"id": "step-3", "label": "Interactivity", "files": ["app.js"]}
  ]
}
` + "```" + `

## Guidelines

- Steps are executed strictly in order
- "files" entries may be exact file names or glob patterns
- Every step needs a short human-readable label
- Do not include explanation outside the JSON`
}

// plannerUserPrompt renders the planning request for a brief.
func plannerUserPrompt(brief, name, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project name: %s\n\nBrief:\n%s\n", name, brief)
	if context != "" {
		fmt.Fprintf(&b, "\nReference material:\n%s\n", context)
	}
	return b.String()
}

// builderSystemPrompt returns the system prompt for per-step file generation.
func builderSystemPrompt() string {
	return `You are building one step of a small multi-file web artifact.
Produce complete, self-contained file contents for the current step only.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "files": {
    "index.html": "<!doctype html>..."
  }
}
` + "```" + `

## Guidelines

- File contents must be complete, not diffs or fragments
- Stay consistent with files produced by earlier steps
- Do not regenerate files from earlier steps unless the step requires it`
}

// builderStepPrompt renders the generation request for a single step.
func builderStepPrompt(brief, name string, step Step, existing map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project name: %s\n\nBrief:\n%s\n\n", name, brief)
	fmt.Fprintf(&b, "Current step: %s — %s\n", step.ID, step.Label)
	if len(step.Files) > 0 {
		fmt.Fprintf(&b, "Expected output files: %s\n", strings.Join(step.Files, ", "))
	}

	if len(existing) > 0 {
		paths := make([]string, 0, len(existing))
		for p := range existing {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		b.WriteString("\nFiles produced by earlier steps:\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", p, existing[p])
		}
	}

	return b.String()
}

// reviewSystemPrompt returns the system prompt for the final quality review.
func reviewSystemPrompt() string {
	return `You are reviewing a finished multi-file web artifact against its brief.

## Output Format

Respond with JSON only:

` + "```json" + `
{
  "score": 85,
  "warnings": ["Contact form has no backend"]
}
` + "```" + `

## Guidelines

- score is an integer 0-100 reflecting completeness and fidelity to the brief
- warnings list concrete shortcomings, empty if none`
}

// reviewUserPrompt renders the review request over the full file set.
func reviewUserPrompt(brief string, files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	fmt.Fprintf(&b, "Brief:\n%s\n\nArtifact files:\n", brief)
	for _, p := range paths {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", p, files[p])
	}
	return b.String()
}
