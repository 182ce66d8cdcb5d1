// Package main implements a mock model server for local development and
// wiring tests. It serves OpenAI-compatible /chat/completions responses
// without a real model: planning requests get a fixed three-step plan,
// build requests get placeholder file contents for the step's expected
// files, and review requests get a fixed score. This makes a full
// serve-and-watch round trip fast, deterministic, and offline-capable.
//
// Usage:
//
//	mock-model -port 11434
//
// Point the server at it with model.endpoint: http://localhost:11434/v1.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type server struct {
	calls atomic.Int64
	delay time.Duration
}

func main() {
	port := flag.Int("port", 11434, "port to listen on")
	delay := flag.Duration("delay", 0, "artificial per-call delay, e.g. 2s to exercise heartbeats")
	flag.Parse()

	s := &server{delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock model server listening on %s (delay=%s)", addr, *delay)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	content := respondTo(req.Messages)
	log.Printf("[call %d] model=%s kind=%s bytes=%d",
		callNum, req.Model, classify(req.Messages), len(content))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// classify decides what kind of generation call this is from the system
// prompt's wording.
func classify(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		switch {
		case strings.Contains(m.Content, "planning the construction"):
			return "plan"
		case strings.Contains(m.Content, "building one step"):
			return "build"
		case strings.Contains(m.Content, "reviewing a finished"):
			return "review"
		}
	}
	return "unknown"
}

func respondTo(messages []chatMessage) string {
	switch classify(messages) {
	case "plan":
		return `{
  "steps": [
    {"id": "step-1", "label": "Page structure", "files": ["index.html"]},
    {"id": "step-2", "label": "Styling", "files": ["styles.css"]},
    {"id": "step-3", "label": "Interactivity", "files": ["app.js"]}
  ]
}`
	case "build":
		return buildResponse(userContent(messages))
	case "review":
		return `{"score": 82, "warnings": ["Placeholder content generated by the mock model"]}`
	default:
		return `{}`
	}
}

func userContent(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// buildResponse fabricates placeholder content for each file the step
// prompt declares under "Expected output files:".
func buildResponse(prompt string) string {
	files := expectedFiles(prompt)
	if len(files) == 0 {
		files = []string{"index.html"}
	}

	out := map[string]map[string]string{"files": {}}
	for _, path := range files {
		out["files"][path] = placeholderFor(path)
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	return string(data)
}

func expectedFiles(prompt string) []string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "Expected output files: "); ok {
			var files []string
			for _, f := range strings.Split(rest, ",") {
				f = strings.TrimSpace(f)
				// Glob patterns cannot name a concrete file; substitute one
				if strings.ContainsAny(f, "*?[{") {
					f = strings.ReplaceAll(f, "*", "main")
				}
				if f != "" {
					files = append(files, f)
				}
			}
			return files
		}
	}
	return nil
}

func placeholderFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "<!doctype html>\n<html>\n<head><title>Mock Artifact</title>" +
			"<link rel=\"stylesheet\" href=\"styles.css\"></head>\n" +
			"<body>\n<h1>Mock Artifact</h1>\n<p>Generated by mock-model.</p>\n" +
			"<script src=\"app.js\"></script>\n</body>\n</html>\n"
	case strings.HasSuffix(path, ".css"):
		return "body { font-family: sans-serif; margin: 2rem; }\nh1 { color: #7a4a20; }\n"
	case strings.HasSuffix(path, ".js"):
		return "document.addEventListener('DOMContentLoaded', () => {\n" +
			"  console.log('mock artifact ready');\n});\n"
	default:
		return fmt.Sprintf("mock content for %s\n", path)
	}
}
