package llm

// BuildTranscriptionJSONSchema returns a JSON-Schema (draft 2020-12 subset)
// as a generic map. The vision model must answer with an object keyed by
// field name; every field is optional because a label rarely shows them all.
func BuildTranscriptionJSONSchema(fieldNames []string) map[string]any {
	props := make(map[string]any, len(fieldNames))
	for _, name := range fieldNames {
		props[name] = map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"text":       map[string]any{"type": "string"},
				"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
			"required": []string{"text"},
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// BuildConsolidationJSONSchema constrains the arbiter's answer: a non-empty
// value plus an optional rationale, nothing else.
func BuildConsolidationJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"value":     map[string]any{"type": "string", "minLength": 1},
			"rationale": map[string]any{"type": "string"},
		},
		"required": []string{"value"},
	}
}
