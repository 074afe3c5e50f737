package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
)

// Prompt template versions. Bump on any wording change so cached results of
// the old wording are never reused.
const (
	TranscriptionPromptVersion = "1"
	ConsolidationPromptVersion = "1"
)

// BuildTranscriptionPrompt asks for a verbatim reading of the label fields.
// Hints are rendered in sorted key order so the prompt is deterministic.
func BuildTranscriptionPrompt(schema *fieldschema.Schema, hints map[string]string) string {
	var b strings.Builder
	b.WriteString("You are an expert reader of natural history specimen labels, printed and handwritten. ")
	b.WriteString("Transcribe the label in this image exactly as written. ")
	b.WriteString("Keep original spelling, abbreviations, punctuation and capitalization. ")
	b.WriteString("Never correct, expand or translate anything. ")
	b.WriteString("If a field is not visible on the label, omit it entirely; never output empty strings or placeholders.\n\n")

	b.WriteString("Fields to read:\n")
	for _, f := range schema.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Description)
		for _, h := range f.Hints {
			b.WriteString(" (")
			b.WriteString(h)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}

	if len(hints) > 0 {
		keys := make([]string, 0, len(hints))
		for k := range hints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nCollection context (may help with hard handwriting, never overrides what is written):\n")
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(hints[k])
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAnswer with ONLY a JSON object keyed by field name, each value an object with \"text\" and a \"confidence\" between 0 and 1.")
	return b.String()
}

// BuildConsolidationPrompt lays out the contested readings for one field.
// Candidates and context arrive pre-ordered, so the same disagreement always
// renders the same prompt.
func BuildConsolidationPrompt(req ConsolidateRequest) string {
	var b strings.Builder
	b.WriteString("Several photographs of the same specimen label were transcribed independently and disagree on one field. ")
	b.WriteString("Decide the most faithful reading of the physical label. ")
	b.WriteString("Choose from the evidence below; never invent text that appears in no transcription.\n\n")

	b.WriteString("Field: ")
	b.WriteString(req.Field)
	b.WriteString("\n\nTranscriptions:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- image %s (%s, confidence %.2f): %q\n", c.ImageID, c.Position, c.Confidence, c.Text)
	}

	if len(req.Context) > 0 {
		b.WriteString("\nAlready settled fields of the same label:\n")
		for _, rf := range req.Context {
			fmt.Fprintf(&b, "- %s: %q\n", rf.Field, rf.Value)
		}
	}

	b.WriteString("\nAnswer with ONLY a JSON object: {\"value\": \"...\", \"rationale\": \"...\"}.")
	return b.String()
}
