package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "markdown code block",
			content: "Here is the plan:\n```json\n{\"a\": 1}\n```\nDone.",
			want:    `{"a": 1}`,
		},
		{
			name:    "code block without language tag",
			content: "```\n{\"a\": 1}\n```",
			want:    `{"a": 1}`,
		},
		{
			name:    "prose around object",
			content: `Sure! {"a": 1} hope that helps`,
			want:    `{"a": 1} hope that helps`[:8],
		},
		{
			name:    "no json at all",
			content: "I cannot produce that.",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.content)
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONCleansArtifacts(t *testing.T) {
	content := "```json\n" + `{
	"steps": [
		{"id": "s1", "url": "http://example.com"}, // inline comment
	],
}` + "\n```"

	got := ExtractJSON(content)

	var parsed struct {
		Steps []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("cleaned JSON does not parse: %v\n%s", err, got)
	}
	if len(parsed.Steps) != 1 || parsed.Steps[0].ID != "s1" {
		t.Errorf("unexpected parse result: %+v", parsed)
	}
	// Comment stripping must not chew through string values
	if parsed.Steps[0].URL != "http://example.com" {
		t.Errorf("URL mangled: %q", parsed.Steps[0].URL)
	}
}
