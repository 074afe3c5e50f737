package align

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize prepares a transcription for alignment: Unicode NFC, whitespace
// runs collapsed to a single space, ends trimmed. Idempotent, so normalizing
// an already-normalized string is a no-op.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
