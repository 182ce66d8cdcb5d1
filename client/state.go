// Package client consumes generation streams: it reduces incoming frames
// into monotonic view state and owns the reconnect/backoff machinery that
// survives transport teardown without losing accumulated results.
package client

import (
	"maps"
	"slices"

	"github.com/c360studio/fabrica/generate"
)

// Phase is the client lifecycle phase. Progression is
// idle → planning → executing → done, with error reachable from any
// non-terminal phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseDone      Phase = "done"
	PhaseError     Phase = "error"
)

// State is the accumulated view of a session. CompletedSteps and Files only
// grow within one client lifetime; automatic reconnects never clear them,
// only an explicit manual retry does.
type State struct {
	Phase          Phase
	Token          string
	Plan           generate.Plan
	CurrentStepID  string
	CompletedSteps map[string]bool
	Files          map[string]string
	QualityScore   int
	Err            string
	ReconnectCount int
	ElapsedMs      int64
	StatusLine     string
}

// NewState returns a fresh idle state.
func NewState() State {
	return State{
		Phase:          PhaseIdle,
		CompletedSteps: make(map[string]bool),
		Files:          make(map[string]string),
	}
}

// Terminal reports whether no further frames or reconnects are expected.
func (s State) Terminal() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseError
}

// clone copies the state deeply enough that the reducer can build the next
// state without mutating the previous one.
func (s State) clone() State {
	next := s
	next.Plan.Steps = slices.Clone(s.Plan.Steps)
	next.CompletedSteps = maps.Clone(s.CompletedSteps)
	next.Files = maps.Clone(s.Files)
	return next
}
