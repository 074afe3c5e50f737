package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DigitizeRun records one pipeline pass over a specimen.
type DigitizeRun struct {
	ID               uuid.UUID       `json:"id"`
	SpecimenID       uuid.UUID       `json:"specimen_id"`
	RunVersion       string          `json:"run_version"`
	ModelName        string          `json:"model_name"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	Status           *string         `json:"status,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	NeedsReview      bool            `json:"needs_review"`
	TranscriptJSON   json.RawMessage `json:"transcript_json,omitempty"`
	ConsolidatedJSON json.RawMessage `json:"consolidated_json,omitempty"`
	CacheHits        int             `json:"cache_hits"`
	ModelCalls       int             `json:"model_calls"`
}
