package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360studio/fabrica/generate"
)

// AuditFunc mirrors an emitted frame to an out-of-band sink. It is called
// after a successful write and must not block for long; failures are the
// sink's problem, never the stream's.
type AuditFunc func(event string, data json.RawMessage)

// Emitter serializes session progress into a strictly ordered SSE frame
// sequence. All writes — semantic frames and heartbeat comments — go
// through one mutex, so partial writes can never interleave. After the
// terminal frame, or after the peer disconnects, every further write is a
// silent no-op.
type Emitter struct {
	mu       sync.Mutex
	w        io.Writer
	flusher  http.Flusher
	logger   *slog.Logger
	audit    AuditFunc
	matcher  *Matcher
	closed   bool
	terminal bool
	gone     bool

	heartbeatDone chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterLogger sets the logger.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// WithAudit sets an audit sink that receives every emitted frame.
func WithAudit(fn AuditFunc) EmitterOption {
	return func(e *Emitter) {
		e.audit = fn
	}
}

// NewEmitter prepares w for SSE output and returns an emitter over it.
// It fails if the ResponseWriter cannot flush, since unflushed frames would
// sit in intermediary buffers for the lifetime of the stream.
func NewEmitter(w http.ResponseWriter, opts ...EmitterOption) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	e := &Emitter{
		w:       w,
		flusher: flusher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	flusher.Flush()
	return e, nil
}

// StartHeartbeat writes a comment frame every interval so that quiet
// stretches — a slow upstream step, for instance — do not look idle to
// network intermediaries. The heartbeat stops the moment the emitter
// closes, on any path.
func (e *Emitter) StartHeartbeat(interval time.Duration) {
	e.mu.Lock()
	if e.closed || e.heartbeatDone != nil {
		e.mu.Unlock()
		return
	}
	done := make(chan struct{})
	e.heartbeatDone = done
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.writeComment()
			}
		}
	}()
}

// SendToken emits the session token frame.
func (e *Emitter) SendToken(token string) {
	e.writeEvent(EventToken, TokenPayload{Token: token})
}

// SendPlan emits the plan frame and arms the step matcher.
func (e *Emitter) SendPlan(plan generate.Plan) {
	e.matcher = NewMatcher(plan)
	e.writeEvent(EventPlan, PlanPayload{Steps: plan.Steps})
}

// BeginBuild emits step_start for the plan's first step.
func (e *Emitter) BeginBuild() {
	if e.matcher == nil {
		return
	}
	if step := e.matcher.Current(); step != nil {
		e.writeEvent(EventStepStart, StepStartPayload{StepID: step.ID, Label: step.Label})
	}
}

// StepProgress re-announces the current step with a progress label.
// Repeated step_start frames for the same step are legal; consumers treat
// them idempotently.
func (e *Emitter) StepProgress(label string) {
	if e.matcher == nil {
		return
	}
	step := e.matcher.Current()
	if step == nil {
		return
	}
	if label == "" {
		label = step.Label
	}
	e.writeEvent(EventStepStart, StepStartPayload{StepID: step.ID, Label: label})
}

// FileWritten emits the file frame, then whatever step transition the
// matcher derives from it: step_done for a completed step and step_start
// for the newly current one.
func (e *Emitter) FileWritten(path, content string) {
	e.writeEvent(EventFile, FilePayload{Path: path, Content: content})

	if e.matcher == nil {
		return
	}
	t := e.matcher.FileProduced(path)
	if t.CloseStepID != "" {
		e.writeEvent(EventStepDone, StepDonePayload{StepID: t.CloseStepID})
	}
	if t.StartStep != nil {
		e.writeEvent(EventStepStart, StepStartPayload{StepID: t.StartStep.ID, Label: t.StartStep.Label})
	}
}

// FinishBuild force-closes any step the matcher never matched, in plan
// order, then emits quality and the terminal done frame, and closes the
// emitter.
func (e *Emitter) FinishBuild(result *generate.BuildResult) {
	if e.matcher != nil {
		for _, step := range e.matcher.CloseRemaining() {
			e.writeEvent(EventStepDone, StepDonePayload{StepID: step.ID})
		}
	}

	e.writeEvent(EventQuality, QualityPayload{Score: result.QualityScore})
	e.writeEvent(EventDone, DonePayload{
		Files:        result.Files,
		QualityScore: result.QualityScore,
		Pages:        result.Pages,
		Warnings:     result.Warnings,
	})
	e.Close()
}

// Fail emits the terminal error_event frame and closes the emitter.
func (e *Emitter) Fail(message string) {
	e.writeEvent(EventError, ErrorPayload{Message: message})
	e.Close()
}

// Close stops the heartbeat and refuses all further writes. Safe to call
// multiple times and from any exit path.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

// ClientGone reports whether a write failed because the peer disconnected.
func (e *Emitter) ClientGone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gone
}

// Terminal reports whether a terminal frame was emitted.
func (e *Emitter) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

func (e *Emitter) closeLocked() {
	e.closed = true
	if e.heartbeatDone != nil {
		close(e.heartbeatDone)
		e.heartbeatDone = nil
	}
}

// writeEvent writes one frame under the single-writer lock. Marshal errors
// are logged and dropped; write errors mean the peer is gone and silently
// end the stream rather than failing the build.
func (e *Emitter) writeEvent(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("Failed to marshal frame payload", "event", name, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.terminal {
		e.logger.Debug("Frame dropped after close", "event", name)
		return
	}

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		e.logger.Debug("Client disconnected during write", "event", name, "error", err)
		e.gone = true
		e.closeLocked()
		return
	}
	e.flusher.Flush()

	if name == EventDone || name == EventError {
		e.terminal = true
	}

	if e.audit != nil {
		e.audit(name, data)
	}
}

// writeComment writes a content-free keepalive comment.
func (e *Emitter) writeComment() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.terminal {
		return
	}

	if _, err := io.WriteString(e.w, ": keepalive\n\n"); err != nil {
		e.logger.Debug("Client disconnected during heartbeat", "error", err)
		e.gone = true
		e.closeLocked()
		return
	}
	e.flusher.Flush()
}
