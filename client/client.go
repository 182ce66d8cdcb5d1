package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/c360studio/fabrica/config"
	"github.com/c360studio/fabrica/stream"
)

// Client drives one observed generation session. It opens the stream,
// reduces frames into State, and recovers from transport failures with
// exponential backoff up to a fixed ceiling. Accumulated files and step
// completions survive automatic reconnects; only Retry clears them.
type Client struct {
	baseURL string
	apiKey  string
	brief   string
	name    string

	httpClient    *http.Client
	logger        *slog.Logger
	onUpdate      func(State)
	maxReconnects int
	backoffBase   time.Duration

	// notifyMu serializes onUpdate delivery across the consume, ticker,
	// and reconnect-timer goroutines.
	notifyMu sync.Mutex

	mu             sync.Mutex
	state          State
	stopped        bool
	generation     uint64
	authChecked    bool
	cancelStream   context.CancelFunc
	reconnectTimer *time.Timer
	elapsedDone    chan struct{}
	elapsedStart   time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithName sets the artifact name sent to the server.
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithOnUpdate registers a callback invoked with a state snapshot after
// every transition. Calls are serialized; the callback must not block.
func WithOnUpdate(fn func(State)) ClientOption {
	return func(c *Client) {
		c.onUpdate = fn
	}
}

// WithReconnectPolicy overrides the reconnect ceiling and the first backoff
// delay. Each subsequent attempt doubles the delay.
func WithReconnectPolicy(cfg config.ClientConfig) ClientOption {
	return func(c *Client) {
		c.maxReconnects = cfg.MaxReconnectAttempts
		c.backoffBase = cfg.ReconnectBase
	}
}

// NewClient creates a stream client for one brief.
func NewClient(baseURL, apiKey, brief string, opts ...ClientOption) *Client {
	defaults := config.DefaultConfig().Client
	c := &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		brief:         brief,
		httpClient:    &http.Client{},
		logger:        slog.Default(),
		maxReconnects: defaults.MaxReconnectAttempts,
		backoffBase:   defaults.ReconnectBase,
		state:         NewState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Start validates credentials out of band, then opens the stream in the
// background. The preflight runs before the first connection only: the
// transport cannot distinguish "unauthenticated" from "network dropped",
// and without the preflight a bad credential would burn the whole
// reconnect budget on a condition that can never succeed.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	checked := c.authChecked
	gen := c.generation
	c.mu.Unlock()

	if !checked {
		if err := c.checkAuth(ctx); err != nil {
			c.fail(err.Error(), gen)
			return err
		}
		c.mu.Lock()
		c.authChecked = true
		c.mu.Unlock()
	}

	go c.connect(ctx, gen)
	return nil
}

// Stop ends the session from the caller's side. Any scheduled reconnect is
// suppressed even if its timer has already fired, and goroutines belonging
// to this lifecycle recognize themselves as stale should the client be
// started again.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.generation++
	if c.cancelStream != nil {
		c.cancelStream()
		c.cancelStream = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.stopElapsed()
}

// Retry is the explicit manual restart: it discards every piece of
// accumulated state, reconnect count included, and runs the lifecycle
// again from the top. It is never triggered automatically.
func (c *Client) Retry(ctx context.Context) error {
	c.Stop()

	c.mu.Lock()
	c.state = NewState()
	st := c.state.clone()
	c.mu.Unlock()
	c.notify(st)

	return c.Start(ctx)
}

// checkAuth exercises the credential against the auth endpoint.
func (c *Client) checkAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/check", nil)
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("authentication failed")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth check returned status %d", resp.StatusCode)
	}
	return nil
}

// connect opens the stream and consumes it to its end. A terminal frame or
// an explicit stop ends the session; anything else is a transport failure
// handed to the reconnect machinery. gen ties the goroutine to the
// lifecycle that spawned it: once Stop or Retry bumps the generation, a
// still-running connect must not touch shared state or schedule anything.
func (c *Client) connect(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.generation {
		c.mu.Unlock()
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancelStream = cancel
	c.mu.Unlock()
	defer cancel()

	err := c.consume(streamCtx, gen)

	c.mu.Lock()
	stale := gen != c.generation
	finished := c.stopped || c.state.Terminal()
	c.mu.Unlock()

	if stale {
		// A newer lifecycle owns the state and the elapsed ticker now.
		return
	}
	if finished {
		c.stopElapsed()
		return
	}

	c.logger.Debug("Transport failed mid-stream", "error", err)
	c.scheduleReconnect(ctx, gen)
}

// consume runs one transport attempt: request, then frame loop.
func (c *Client) consume(ctx context.Context, gen uint64) error {
	params := url.Values{}
	params.Set("brief", c.brief)
	if c.name != "" {
		params.Set("name", c.name)
	}
	c.mu.Lock()
	if c.state.Token != "" {
		// Informational: labels this as a follow-up attempt. The server
		// starts fresh regardless.
		params.Set("resume", c.state.Token)
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/generate?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Rejected before any frame. Not a transport failure: reconnecting
		// cannot change the answer.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.fail(fmt.Sprintf("request rejected with status %d: %s", resp.StatusCode, body), gen)
		return nil
	}

	dec := stream.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream ended without terminal frame")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		c.apply(ev, gen)

		c.mu.Lock()
		terminal := c.state.Terminal()
		c.mu.Unlock()
		if terminal {
			return nil
		}
	}
}

// apply reduces one frame and publishes the new state. Frames from a
// superseded lifecycle are discarded: after Retry the new session must not
// see leftovers from the old stream.
func (c *Client) apply(ev stream.Event, gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = Reduce(c.state, ev)
	st := c.state.clone()
	c.mu.Unlock()

	if ev.Name == stream.EventPlan {
		c.startElapsed()
	}
	c.notify(st)
}

// scheduleReconnect arms the next attempt or, at the ceiling, moves the
// session to the error phase with everything received so far intact.
func (c *Client) scheduleReconnect(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.stopped || gen != c.generation || c.state.Terminal() {
		c.mu.Unlock()
		return
	}

	if c.state.ReconnectCount >= c.maxReconnects {
		next := c.state.clone()
		next.Phase = PhaseError
		next.Err = fmt.Sprintf("gave up after %d reconnect attempts; partial results preserved",
			next.ReconnectCount)
		next.StatusLine = next.Err
		c.state = next
		c.mu.Unlock()

		c.stopElapsed()
		c.logger.Warn("Reconnect ceiling reached", "attempts", next.ReconnectCount)
		c.notify(next)
		return
	}

	attempt := c.state.ReconnectCount + 1
	delay := c.backoffBase << (attempt - 1)

	next := c.state.clone()
	next.ReconnectCount = attempt
	next.StatusLine = fmt.Sprintf("reconnecting (%d/%d)", attempt, c.maxReconnects)
	c.state = next

	c.reconnectTimer = time.AfterFunc(delay, func() {
		// The timer may fire after Stop or Retry; re-check before touching
		// the wire
		c.mu.Lock()
		suppressed := c.stopped || gen != c.generation || c.state.Terminal()
		c.mu.Unlock()
		if suppressed {
			return
		}
		c.connect(ctx, gen)
	})
	c.mu.Unlock()

	c.logger.Info("Reconnect scheduled", "attempt", attempt, "delay", delay)
	c.notify(next)
}

// fail moves the session to the error phase without a server frame. A
// stale generation means the failure belongs to a superseded lifecycle and
// is dropped.
func (c *Client) fail(message string, gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	next := c.state.clone()
	next.Phase = PhaseError
	next.Err = message
	next.StatusLine = "error: " + message
	c.state = next
	c.mu.Unlock()

	c.stopElapsed()
	c.notify(next)
}

// startElapsed begins the elapsed-time ticker on the first plan frame.
// Reconnects keep the original clock running.
func (c *Client) startElapsed() {
	c.mu.Lock()
	if c.elapsedDone != nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.elapsedDone = done
	c.elapsedStart = time.Now()
	start := c.elapsedStart
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.state.ElapsedMs = time.Since(start).Milliseconds()
				st := c.state.clone()
				c.mu.Unlock()
				c.notify(st)
			}
		}
	}()
}

func (c *Client) stopElapsed() {
	c.mu.Lock()
	if c.elapsedDone != nil {
		close(c.elapsedDone)
		c.elapsedDone = nil
	}
	c.mu.Unlock()
}

// notify delivers a state snapshot to the registered callback. The
// dedicated lock keeps deliveries from the consume, elapsed-ticker, and
// reconnect-timer goroutines from overlapping, so the callback never runs
// concurrently with itself.
func (c *Client) notify(st State) {
	if c.onUpdate == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onUpdate(st)
}
