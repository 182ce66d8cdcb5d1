package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/c360studio/fabrica/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionServer returns an httptest server that answers every chat
// completion with the content chosen by pick, given the incoming messages.
func completionServer(t *testing.T, pick func(messages []llm.Message) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": pick(req.Messages)},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 5, "total_tokens": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(serverURL string) *llm.Client {
	return llm.NewClient(llm.Config{Endpoint: serverURL, Model: "test-model"})
}

func TestLLMPlanner_PlanArtifact(t *testing.T) {
	server := completionServer(t, func(messages []llm.Message) string {
		return "Here you go:\n```json\n" + `{
  "steps": [
    {"id": "step-1", "label": "Page structure", "files": ["index.html"]},
    {"id": "step-2", "label": "Styling", "files": ["styles.css"]}
  ]
}` + "\n```"
	})
	defer server.Close()

	planner := NewLLMPlanner(testClient(server.URL))

	plan, err := planner.PlanArtifact(context.Background(), "Landing page for a bakery", "bakery")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "step-1", plan.Steps[0].ID)
	assert.Equal(t, "Styling", plan.Steps[1].Label)
	assert.Equal(t, []string{"index.html"}, plan.Steps[0].Files)
	assert.Equal(t, StepStatusPending, plan.Steps[0].Status)
}

func TestLLMPlanner_ContextProviderIncluded(t *testing.T) {
	var sawContext bool
	server := completionServer(t, func(messages []llm.Message) string {
		for _, m := range messages {
			if m.Role == "user" && strings.Contains(m.Content, "brand voice: warm") {
				sawContext = true
			}
		}
		return `{"steps": [{"id": "s1", "label": "All", "files": ["index.html"]}]}`
	})
	defer server.Close()

	planner := NewLLMPlanner(testClient(server.URL),
		WithPlannerContext(func() string { return "brand voice: warm" }))

	_, err := planner.PlanArtifact(context.Background(), "brief", "name")
	require.NoError(t, err)
	assert.True(t, sawContext, "planner prompt should include provider context")
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantErr   bool
		wantSteps int
	}{
		{
			name:      "valid bare JSON",
			content:   `{"steps": [{"id": "a", "label": "A", "files": ["a.html"]}]}`,
			wantSteps: 1,
		},
		{
			name:      "markdown fenced",
			content:   "```json\n{\"steps\": [{\"id\": \"a\", \"label\": \"A\", \"files\": []}]}\n```",
			wantSteps: 1,
		},
		{
			name:    "no JSON",
			content: "sorry, cannot plan this",
			wantErr: true,
		},
		{
			name:    "empty steps",
			content: `{"steps": []}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := parsePlan(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, plan.Steps, tt.wantSteps)
		})
	}
}

func TestParsePlanFillsMissingIDs(t *testing.T) {
	plan, err := parsePlan(`{"steps": [{"label": "First", "files": []}, {"label": "", "id": "", "files": []}]}`)
	require.NoError(t, err)
	assert.Equal(t, "step-1", plan.Steps[0].ID)
	assert.Equal(t, "step-2", plan.Steps[1].ID)
	assert.Equal(t, "step-2", plan.Steps[1].Label)
}
