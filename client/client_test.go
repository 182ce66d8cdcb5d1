package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/fabrica/config"
	"github.com/c360studio/fabrica/generate"
	"github.com/c360studio/fabrica/stream"
)

func writeFrame(t *testing.T, w http.ResponseWriter, name string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	w.(http.Flusher).Flush()
}

// streamServer serves /auth/check and hands /generate connections to the
// per-connection script with a 1-based connection number.
func streamServer(t *testing.T, authStatus int, script func(conn int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var connects atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(authStatus)
	})
	mux.HandleFunc("GET /generate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		script(connects.Add(1), w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &connects
}

func fastReconnect() config.ClientConfig {
	return config.ClientConfig{MaxReconnectAttempts: 4, ReconnectBase: 5 * time.Millisecond}
}

func waitTerminal(t *testing.T, updates <-chan State) State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-updates:
			if st.Terminal() {
				return st
			}
		case <-deadline:
			t.Fatal("no terminal state within deadline")
		}
	}
}

func sendPreamble(t *testing.T, w http.ResponseWriter, token string) {
	writeFrame(t, w, stream.EventToken, stream.TokenPayload{Token: token})
	writeFrame(t, w, stream.EventPlan, stream.PlanPayload{Steps: []generate.Step{
		{ID: "s1", Label: "Structure", Files: []string{"index.html"}},
	}})
}

func sendRemainder(t *testing.T, w http.ResponseWriter) {
	writeFrame(t, w, stream.EventStepStart, stream.StepStartPayload{StepID: "s1", Label: "Structure"})
	writeFrame(t, w, stream.EventFile, stream.FilePayload{Path: "index.html", Content: "<html>"})
	writeFrame(t, w, stream.EventStepDone, stream.StepDonePayload{StepID: "s1"})
	writeFrame(t, w, stream.EventQuality, stream.QualityPayload{Score: 90})
	writeFrame(t, w, stream.EventDone, stream.DonePayload{
		Files:        map[string]string{"index.html": "<html>"},
		QualityScore: 90,
		Pages:        1,
	})
}

func TestClientCompletesSession(t *testing.T) {
	srv, connects := streamServer(t, http.StatusOK, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, "tok-1")
		sendRemainder(t, w)
	})

	updates := make(chan State, 256)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "tok-1", st.Token)
	assert.Equal(t, 90, st.QualityScore)
	assert.True(t, st.CompletedSteps["s1"])
	assert.Equal(t, "<html>", st.Files["index.html"])
	assert.Equal(t, 0, st.ReconnectCount)
	assert.Equal(t, int32(1), connects.Load())
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	var resumeSeen atomic.Value

	srv, connects := streamServer(t, http.StatusOK, func(conn int32, w http.ResponseWriter, r *http.Request) {
		if conn == 1 {
			// Drop after the plan, before any file
			sendPreamble(t, w, "tok-first")
			return
		}
		resumeSeen.Store(r.URL.Query().Get("resume"))
		sendPreamble(t, w, "tok-second")
		sendRemainder(t, w)
	})

	updates := make(chan State, 256)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, 1, st.ReconnectCount)
	assert.Equal(t, "tok-second", st.Token)
	assert.Equal(t, int32(2), connects.Load())

	// The reconnect labels itself with the prior attempt's token
	assert.Equal(t, "tok-first", resumeSeen.Load())
}

func TestClientReconnectCeiling(t *testing.T) {
	srv, connects := streamServer(t, http.StatusOK, func(conn int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, fmt.Sprintf("tok-%d", conn))
		if conn == 1 {
			writeFrame(t, w, stream.EventFile, stream.FilePayload{Path: "index.html", Content: "partial"})
		}
		// Always drop without a terminal frame
	})

	updates := make(chan State, 256)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseError, st.Phase)
	assert.Contains(t, st.Err, "gave up after 4")
	assert.Contains(t, st.Err, "partial results preserved")
	assert.Equal(t, 4, st.ReconnectCount)

	// Partial results from the first attempt survive to the bitter end
	assert.Equal(t, "partial", st.Files["index.html"])

	// Initial connection plus exactly four reconnects, never a fifth
	assert.Equal(t, int32(5), connects.Load())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(5), connects.Load())
}

func TestClientStopSuppressesScheduledReconnect(t *testing.T) {
	srv, connects := streamServer(t, http.StatusOK, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, "tok-1")
	})

	updates := make(chan State, 256)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(config.ClientConfig{MaxReconnectAttempts: 4, ReconnectBase: 250 * time.Millisecond}),
		WithOnUpdate(func(st State) { updates <- st }))

	require.NoError(t, c.Start(context.Background()))

	// Wait for the first reconnect to be scheduled, then stop before it fires
	deadline := time.After(5 * time.Second)
	for {
		var st State
		select {
		case st = <-updates:
		case <-deadline:
			t.Fatal("reconnect never scheduled")
		}
		if st.ReconnectCount == 1 {
			break
		}
	}
	c.Stop()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(1), connects.Load())
	assert.False(t, c.State().Terminal())
}

func TestClientAuthPreflightFailure(t *testing.T) {
	srv, connects := streamServer(t, http.StatusUnauthorized, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, "tok-1")
	})

	c := NewClient(srv.URL, "bad-key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()))
	defer c.Stop()

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")

	// The stream was never opened, so no reconnect budget was spent
	assert.Equal(t, int32(0), connects.Load())
	st := c.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, 0, st.ReconnectCount)
}

func TestClientRejectionIsNotRetried(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var connects atomic.Int32
	mux.HandleFunc("GET /generate", func(w http.ResponseWriter, _ *http.Request) {
		connects.Add(1)
		http.Error(w, "brief must not be empty", http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	updates := make(chan State, 256)
	c := NewClient(srv.URL, "key", "  ",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseError, st.Phase)
	assert.Contains(t, st.Err, "status 400")
	assert.Equal(t, 0, st.ReconnectCount)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), connects.Load())
}

func TestClientRetryClearsState(t *testing.T) {
	var succeed atomic.Bool

	srv, connects := streamServer(t, http.StatusOK, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, "tok-1")
		if succeed.Load() {
			sendRemainder(t, w)
			return
		}
		writeFrame(t, w, stream.EventFile, stream.FilePayload{Path: "stale.html", Content: "old"})
	})

	updates := make(chan State, 1024)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(config.ClientConfig{MaxReconnectAttempts: 1, ReconnectBase: 5 * time.Millisecond}),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))
	st := waitTerminal(t, updates)
	require.Equal(t, PhaseError, st.Phase)
	require.Contains(t, st.Files, "stale.html")
	firstConnects := connects.Load()

	// Manual retry starts the lifecycle over with nothing carried across
	succeed.Store(true)
	require.NoError(t, c.Retry(context.Background()))

	st = waitTerminal(t, updates)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, 0, st.ReconnectCount)
	assert.NotContains(t, st.Files, "stale.html")
	assert.Equal(t, firstConnects+1, connects.Load())
}

func TestClientRetryMidStreamSupersedesOldLifecycle(t *testing.T) {
	srv, connects := streamServer(t, http.StatusOK, func(conn int32, w http.ResponseWriter, r *http.Request) {
		if conn == 1 {
			// Hang after the token until the client tears the stream down
			writeFrame(t, w, stream.EventToken, stream.TokenPayload{Token: "tok-hung"})
			<-r.Context().Done()
			return
		}
		sendPreamble(t, w, "tok-retry")
		sendRemainder(t, w)
	})

	updates := make(chan State, 1024)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) { updates <- st }))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	// Wait until the first stream is live, then retry while it hangs
	deadline := time.After(5 * time.Second)
	for {
		var st State
		select {
		case st = <-updates:
		case <-deadline:
			t.Fatal("first stream never delivered its token")
		}
		if st.Token == "tok-hung" {
			break
		}
	}
	require.NoError(t, c.Retry(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "tok-retry", st.Token)

	// The torn-down lifecycle must not bleed into the new one: a retried
	// session starts from the top with a clean reconnect budget, and the
	// superseded goroutine must not schedule an extra connection.
	assert.Equal(t, 0, st.ReconnectCount)
	assert.Equal(t, int32(2), connects.Load())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), connects.Load())
}

func TestClientUpdateCallbackSerialized(t *testing.T) {
	srv, _ := streamServer(t, http.StatusOK, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		sendPreamble(t, w, "tok-1")
		writeFrame(t, w, stream.EventStepStart, stream.StepStartPayload{StepID: "s1", Label: "Structure"})
		// Keep frames flowing long enough for the elapsed ticker to fire
		// alongside them
		stop := time.After(1300 * time.Millisecond)
		for i := 0; ; i++ {
			select {
			case <-stop:
				writeFrame(t, w, stream.EventStepDone, stream.StepDonePayload{StepID: "s1"})
				writeFrame(t, w, stream.EventDone, stream.DonePayload{Files: map[string]string{}})
				return
			default:
				writeFrame(t, w, stream.EventFile, stream.FilePayload{
					Path:    "index.html",
					Content: fmt.Sprintf("rev %d", i),
				})
				time.Sleep(10 * time.Millisecond)
			}
		}
	})

	var inCallback atomic.Int32
	var overlaps atomic.Int32
	updates := make(chan State, 4096)
	c := NewClient(srv.URL, "key", "bakery landing page",
		WithReconnectPolicy(fastReconnect()),
		WithOnUpdate(func(st State) {
			if inCallback.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(200 * time.Microsecond)
			inCallback.Add(-1)
			updates <- st
		}))
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))

	st := waitTerminal(t, updates)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, int32(0), overlaps.Load(), "onUpdate ran concurrently with itself")
}
