package llm

import "context"

// Observation is one field reading returned by the vision model for one image.
type Observation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"` // 0..1
}

// DefaultConfidence is assumed when the model omits a confidence.
const DefaultConfidence = 0.5

// TranscribeRequest carries one label image to the vision model. Hints are
// optional collection context (country, taxon group) shown to the model;
// they vary per specimen and are part of the call's input identity, not the
// prompt identity.
type TranscribeRequest struct {
	ImageBytes []byte
	MIMEType   string
	Hints      map[string]string
}

// Transcriber is the transcription collaborator the digitize stage depends on.
// TranscriptionFingerprint identifies the model, temperature, prompt template
// and field schema, for cache key derivation.
type Transcriber interface {
	TranscribeImage(ctx context.Context, req TranscribeRequest) (map[string]Observation, []byte /*rawJSON*/, error)
	TranscriptionFingerprint() string
}

// FieldCandidate is one witness reading offered to the arbiter.
type FieldCandidate struct {
	Position   string  `json:"position"`
	ImageID    string  `json:"imageId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ResolvedField is an already-settled sibling field given to the arbiter as
// context.
type ResolvedField struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ConsolidateRequest asks the arbiter to settle one contested field. The
// caller orders Candidates and Context deterministically before the call.
type ConsolidateRequest struct {
	Field      string           `json:"field"`
	Candidates []FieldCandidate `json:"candidates"`
	Context    []ResolvedField  `json:"context,omitempty"`
}

// Decision is the arbiter's answer for one field.
type Decision struct {
	Value     string `json:"value"`
	Rationale string `json:"rationale,omitempty"`
}

// Consolidator is the arbitration collaborator the consolidate stage depends
// on. ConsolidationFingerprint identifies the model, temperature and prompt
// template, for cache key derivation.
type Consolidator interface {
	Consolidate(ctx context.Context, req ConsolidateRequest) (Decision, []byte /*rawJSON*/, error)
	ConsolidationFingerprint() string
}
