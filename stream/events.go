// Package stream defines the ordered event vocabulary for generation
// sessions and implements both sides of the wire: the single-writer SSE
// Emitter with its step-completion Matcher and heartbeat, and the Decoder
// consumers use to read frames back.
package stream

import (
	"encoding/json"

	"github.com/c360studio/fabrica/generate"
)

// Event names on the wire. A session emits, in order: token, plan, then
// interleaved step_start/file/step_done per step, then quality, then the
// terminal done — or error_event as the terminal at any point. Arrival
// order is the only ordering signal; frames carry no sequence numbers.
const (
	EventToken     = "token"
	EventPlan      = "plan"
	EventStepStart = "step_start"
	EventFile      = "file"
	EventStepDone  = "step_done"
	EventQuality   = "quality"
	EventDone      = "done"
	EventError     = "error_event"
)

// Event is one decoded frame: the event name plus its raw JSON payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// TokenPayload carries the session's opaque token. The token labels the
// attempt; the server does not honor it for resumption.
type TokenPayload struct {
	Token string `json:"token"`
}

// PlanPayload carries the ordered step list.
type PlanPayload struct {
	Steps []generate.Step `json:"steps"`
}

// StepStartPayload marks a step becoming the active step.
type StepStartPayload struct {
	StepID string `json:"stepId"`
	Label  string `json:"label,omitempty"`
}

// FilePayload carries one produced file.
type FilePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// StepDonePayload marks a step as completed.
type StepDonePayload struct {
	StepID string `json:"stepId"`
}

// QualityPayload carries the artifact quality score in [0,100].
type QualityPayload struct {
	Score int `json:"score"`
}

// DonePayload is the successful terminal frame. Its file map and score are
// authoritative over any partial state a consumer accumulated.
type DonePayload struct {
	Files        map[string]string `json:"files"`
	QualityScore int               `json:"qualityScore"`
	Pages        int               `json:"pages"`
	Warnings     []string          `json:"warnings"`
}

// ErrorPayload is the failure terminal frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
