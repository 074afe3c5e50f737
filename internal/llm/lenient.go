package llm

import (
	"strings"
)

// ExtractJSONBlock digs the JSON object out of a model answer that may be
// wrapped in markdown fences or prose. Returns the candidate JSON bytes; the
// caller still validates them.
func ExtractJSONBlock(answer string) []byte {
	s := strings.TrimSpace(answer)

	// Strip a ```json ... ``` fence if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	// Fall back to the outermost object literal.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(s)
}
