// Package server exposes artifact generation over HTTP: a bearer-gated SSE
// endpoint that streams one session's ordered frames, an auth preflight
// endpoint, health, and Prometheus metrics.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/fabrica/config"
	"github.com/c360studio/fabrica/generate"
	"github.com/c360studio/fabrica/stream"
)

// Handler serves generation sessions. One request is one session: the
// stream carries every frame from token to the terminal, and nothing about
// the session survives the response.
type Handler struct {
	cfg     config.ServerConfig
	auth    *Authenticator
	planner generate.Planner
	builder generate.Builder
	metrics *Metrics
	auditor *Auditor
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics attaches a metric set and enables the /metrics endpoint.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAuditor attaches a NATS frame mirror.
func WithAuditor(a *Auditor) Option {
	return func(h *Handler) {
		h.auditor = a
	}
}

// NewHandler creates a session handler.
func NewHandler(cfg config.ServerConfig, planner generate.Planner, builder generate.Builder, opts ...Option) *Handler {
	h := &Handler{
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.APIKeys),
		planner: planner,
		builder: builder,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the HTTP endpoints.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /generate", h.handleGenerate)
	mux.HandleFunc("GET /auth/check", h.handleAuthCheck)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// handleGenerate runs one generation session over SSE.
//
// Query parameters:
//   - brief: what to build (required, non-empty after trimming)
//   - name: artifact name (optional)
//   - resume: token of a previous attempt (accepted, logged, not honored)
//
// Authentication and brief validation happen before the stream opens, so
// their failures arrive as plain HTTP statuses, never as frames.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.auth.Principal(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	brief := strings.TrimSpace(r.URL.Query().Get("brief"))
	if brief == "" {
		h.writeError(w, http.StatusBadRequest, "brief must not be empty")
		return
	}
	if h.cfg.MaxBriefLength > 0 && len(brief) > h.cfg.MaxBriefLength {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("brief exceeds %d bytes", h.cfg.MaxBriefLength))
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "artifact"
	}

	session := generate.NewSession(principal, brief, name)
	if resume := r.URL.Query().Get("resume"); resume != "" {
		// The server holds no per-session state, so a resume token starts
		// a fresh attempt rather than continuing the old one.
		h.logger.Info("Resume token received, starting fresh session",
			"resume", resume, "token", session.Token)
	}

	emitter, err := stream.NewEmitter(w,
		stream.WithEmitterLogger(h.logger),
		stream.WithAudit(h.frameSink(session.Token)),
	)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Session started",
		"token", session.Token, "principal", principal, "name", name)

	start := time.Now()
	if h.metrics != nil {
		h.metrics.SessionStarted()
	}

	outcome := "error"
	defer func() {
		if emitter.ClientGone() {
			outcome = "disconnected"
		}
		if h.metrics != nil {
			h.metrics.SessionFinished(outcome, time.Since(start).Seconds())
		}
		h.logger.Info("Session finished",
			"token", session.Token, "outcome", outcome,
			"duration", time.Since(start))
	}()

	emitter.StartHeartbeat(h.cfg.HeartbeatInterval)
	defer emitter.Close()

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic during session", "token", session.Token, "panic", rec)
			emitter.Fail("internal error")
		}
	}()

	outcome = h.runSession(r, session, emitter)
}

// runSession drives the frame sequence for one session and reports how it
// ended.
func (h *Handler) runSession(r *http.Request, session *generate.Session, emitter *stream.Emitter) string {
	ctx := r.Context()

	emitter.SendToken(session.Token)

	plan, err := h.planner.PlanArtifact(ctx, session.Brief, session.Name)
	if err != nil {
		h.logger.Warn("Planning failed", "token", session.Token, "error", err)
		emitter.Fail(fmt.Sprintf("planning failed: %v", err))
		return "error"
	}

	emitter.SendPlan(plan)
	emitter.BeginBuild()

	result, err := h.builder.Build(ctx, session.Brief, session.Name, plan,
		func(label, detail string) {
			emitter.StepProgress(label)
		},
		func(path, content string) {
			emitter.FileWritten(path, content)
		},
	)
	if err != nil {
		h.logger.Warn("Build failed", "token", session.Token, "error", err)
		emitter.Fail(fmt.Sprintf("build failed: %v", err))
		return "error"
	}

	emitter.FinishBuild(result)
	return "done"
}

// handleAuthCheck validates credentials without starting a session. Clients
// call it once before their first connect so an auth failure surfaces as a
// clean 401 instead of a failed stream.
func (h *Handler) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.auth.Principal(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"principal": principal})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// frameSink fans each emitted frame out to metrics and the NATS mirror.
func (h *Handler) frameSink(token string) stream.AuditFunc {
	mirror := h.auditor.FrameSink(token)
	return func(event string, data json.RawMessage) {
		if h.metrics != nil {
			h.metrics.FrameEmitted(event)
		}
		if mirror != nil {
			mirror(event, data)
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
