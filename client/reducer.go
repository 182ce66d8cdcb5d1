package client

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/fabrica/generate"
	"github.com/c360studio/fabrica/stream"
)

// Reduce applies one frame to the state and returns the next state. It is a
// pure function: the input state is never mutated, and the same frame
// sequence always produces the same result. Frames with payloads that fail
// to parse, and frames arriving after a terminal phase, leave the state
// unchanged.
func Reduce(s State, ev stream.Event) State {
	if s.Terminal() {
		return s
	}

	switch ev.Name {
	case stream.EventToken:
		var p stream.TokenPayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.Token = p.Token
		next.Phase = PhasePlanning
		next.StatusLine = "planning"
		return next

	case stream.EventPlan:
		var p stream.PlanPayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.Plan.Steps = make([]generate.Step, len(p.Steps))
		copy(next.Plan.Steps, p.Steps)
		for i := range next.Plan.Steps {
			if next.Plan.Steps[i].Status == "" {
				next.Plan.Steps[i].Status = generate.StepStatusPending
			}
		}
		next.Phase = PhaseExecuting
		next.StatusLine = "executing"
		return next

	case stream.EventStepStart:
		var p stream.StepStartPayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.CurrentStepID = p.StepID
		markStep(next.Plan.Steps, p.StepID, generate.StepStatusActive)
		if p.Label != "" {
			next.StatusLine = p.Label
		}
		return next

	case stream.EventStepDone:
		var p stream.StepDonePayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.CompletedSteps[p.StepID] = true
		markStep(next.Plan.Steps, p.StepID, generate.StepStatusDone)
		if next.CurrentStepID == p.StepID {
			next.CurrentStepID = ""
		}
		return next

	case stream.EventFile:
		var p stream.FilePayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.Files[p.Path] = p.Content
		return next

	case stream.EventQuality:
		var p stream.QualityPayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.QualityScore = p.Score
		return next

	case stream.EventDone:
		var p stream.DonePayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		// The terminal payload is authoritative: its files overwrite any
		// partial content, but earlier paths it does not mention stay.
		for path, content := range p.Files {
			next.Files[path] = content
		}
		next.QualityScore = p.QualityScore
		next.Phase = PhaseDone
		next.CurrentStepID = ""
		next.StatusLine = fmt.Sprintf("done: %d files", len(next.Files))
		return next

	case stream.EventError:
		var p stream.ErrorPayload
		if json.Unmarshal(ev.Data, &p) != nil {
			return s
		}
		next := s.clone()
		next.Phase = PhaseError
		next.Err = p.Message
		next.CurrentStepID = ""
		next.StatusLine = "error: " + p.Message
		return next
	}

	// Unknown event names are ignored for forward compatibility
	return s
}

// markStep advances a plan step's status in place. Statuses only move
// forward: a duplicate step_start after step_done must not reopen the step.
func markStep(steps []generate.Step, id string, status generate.StepStatus) {
	for i := range steps {
		if steps[i].ID != id {
			continue
		}
		if steps[i].Status == generate.StepStatusDone {
			return
		}
		steps[i].Status = status
		return
	}
}
