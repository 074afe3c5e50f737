package llm

import "testing"

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"value":"x"}`, `{"value":"x"}`},
		{"fenced", "```json\n{\"value\":\"x\"}\n```", `{"value":"x"}`},
		{"fenced no language", "```\n{\"value\":\"x\"}\n```", `{"value":"x"}`},
		{"prose around object", `Here you go: {"value":"x"} hope that helps`, `{"value":"x"}`},
		{"leading whitespace", "\n  {\"value\":\"x\"}", `{"value":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(ExtractJSONBlock(tt.in)); got != tt.want {
				t.Errorf("ExtractJSONBlock(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
