// Package generate defines the artifact generation domain: plans, steps,
// sessions, and the Planner/Builder collaborator interfaces, plus LLM-backed
// implementations of both.
package generate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StepStatus tracks a step's lifecycle. Transitions are monotonic:
// pending → active → done.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusActive  StepStatus = "active"
	StepStatusDone    StepStatus = "done"
)

// Step is a labeled unit of planned work expected to culminate in specific
// output files. Files holds match patterns, not exact paths: a plain pattern
// matches by suffix or substring against produced base names, and a pattern
// containing glob metacharacters is matched as a doublestar glob. Declared
// step boundaries are advisory; matching is approximate by design.
type Step struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Files  []string   `json:"files"`
	Status StepStatus `json:"status,omitempty"`
}

// Plan is the ordered list of steps produced once per session by the
// Planner. It is immutable after creation.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Session is one end-to-end generation attempt. The token is informational
// only: the server holds no per-session state, so it cannot be used to
// resume work after a disconnect.
type Session struct {
	Token     string
	Principal string
	Brief     string
	Name      string
	CreatedAt time.Time
}

// NewSession creates a session with a fresh opaque token.
func NewSession(principal, brief, name string) *Session {
	return &Session{
		Token:     uuid.New().String(),
		Principal: principal,
		Brief:     brief,
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// BuildResult is the final output of a build: the complete file set, an
// overall quality score in [0,100], the number of pages, and any warnings
// accumulated along the way.
type BuildResult struct {
	Files        map[string]string `json:"files"`
	QualityScore int               `json:"qualityScore"`
	Pages        int               `json:"pages"`
	Warnings     []string          `json:"warnings"`
}

// Planner produces an ordered plan of labeled steps for a brief.
type Planner interface {
	PlanArtifact(ctx context.Context, brief, name string) (Plan, error)
}

// Builder executes a plan's steps in order, reporting progress through two
// synchronous callbacks: onProgress for step-level progress and onFile for
// each produced file. Callbacks are invoked sequentially, never concurrently.
type Builder interface {
	Build(ctx context.Context, brief, name string, plan Plan,
		onProgress func(label, detail string),
		onFile func(path, content string)) (*BuildResult, error)
}
