package stream

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/fabrica/generate"
)

// Matcher reconciles produced files against declared step boundaries. It
// keeps a single cursor into the plan: when a file matches the current
// step's patterns the step closes and the cursor advances, clamped at the
// last step. Matching is approximate by design — a plain pattern matches by
// suffix or substring against the file's base name, and colliding suffixes
// can advance the cursor early. Declared boundaries are advisory.
type Matcher struct {
	steps  []generate.Step
	cursor int
	closed map[string]bool
}

// Transition describes the frames a produced file calls for: a step to
// close, and optionally a newly current step to start.
type Transition struct {
	// CloseStepID is the step to emit step_done for; empty if none.
	CloseStepID string
	// StartStep is the step to emit step_start for; nil if the cursor
	// did not move.
	StartStep *generate.Step
}

// NewMatcher creates a matcher over the plan's steps.
func NewMatcher(plan generate.Plan) *Matcher {
	return &Matcher{
		steps:  plan.Steps,
		closed: make(map[string]bool, len(plan.Steps)),
	}
}

// Current returns the step under the cursor, or nil for an empty plan.
func (m *Matcher) Current() *generate.Step {
	if len(m.steps) == 0 {
		return nil
	}
	return &m.steps[m.cursor]
}

// FileProduced tests the file against the current step and returns the
// resulting transition. A step is closed at most once.
func (m *Matcher) FileProduced(filePath string) Transition {
	if len(m.steps) == 0 {
		return Transition{}
	}

	current := &m.steps[m.cursor]
	if !stepMatches(current, path.Base(filePath)) {
		return Transition{}
	}

	var t Transition
	if !m.closed[current.ID] {
		m.closed[current.ID] = true
		t.CloseStepID = current.ID
	}

	// Advance, clamped at the last step.
	if m.cursor < len(m.steps)-1 {
		m.cursor++
		t.StartStep = &m.steps[m.cursor]
	}

	return t
}

// CloseRemaining returns every step not yet closed, in plan order, marking
// them closed. The emitter calls this after the build returns so that every
// declared step reaches done exactly once no matter how files mapped to steps.
func (m *Matcher) CloseRemaining() []generate.Step {
	var remaining []generate.Step
	for _, step := range m.steps {
		if !m.closed[step.ID] {
			m.closed[step.ID] = true
			remaining = append(remaining, step)
		}
	}
	return remaining
}

// stepMatches tests a file base name against a step's declared patterns.
func stepMatches(step *generate.Step, base string) bool {
	for _, pattern := range step.Files {
		if pattern == "" {
			continue
		}
		if isGlobPattern(pattern) {
			if ok, err := doublestar.Match(pattern, base); err == nil && ok {
				return true
			}
			continue
		}
		if strings.HasSuffix(base, pattern) || strings.Contains(base, pattern) {
			return true
		}
	}
	return false
}

// isGlobPattern reports whether the pattern uses glob metacharacters.
func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
