package server

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/fabrica/stream"
)

// Auditor mirrors emitted frames onto NATS subjects so other systems can
// observe sessions without holding the HTTP stream open. Publish failures
// are logged and dropped; the audit mirror must never stall a stream.
type Auditor struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewAuditor connects to NATS and returns a frame auditor. Frames publish
// to "<prefix>.<token>.<event>".
func NewAuditor(url, prefix string, logger *slog.Logger) (*Auditor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("fabrica-audit"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &Auditor{nc: nc, prefix: prefix, logger: logger}, nil
}

// FrameSink returns an audit function bound to one session token. Safe to
// call on a nil Auditor, which yields a nil sink.
func (a *Auditor) FrameSink(token string) stream.AuditFunc {
	if a == nil {
		return nil
	}
	return func(event string, data json.RawMessage) {
		subject := fmt.Sprintf("%s.%s.%s", a.prefix, token, event)
		if err := a.nc.Publish(subject, data); err != nil {
			a.logger.Warn("Failed to mirror frame", "subject", subject, "error", err)
		}
	}
}

// Close flushes pending publishes and drops the connection.
func (a *Auditor) Close() {
	if a == nil || a.nc == nil {
		return
	}
	if err := a.nc.Flush(); err != nil {
		a.logger.Warn("Failed to flush audit connection", "error", err)
	}
	a.nc.Close()
}
