package entity

import (
	"time"

	"github.com/google/uuid"
)

// SpecimenImage is one photographed view of a specimen's labels.
type SpecimenImage struct {
	ID          uuid.UUID `json:"id"`
	SpecimenID  uuid.UUID `json:"specimen_id"`
	SourcePath  string    `json:"source_path"`
	SourceURL   *string   `json:"source_url,omitempty"`
	Filename    string    `json:"filename"`
	MIMEType    string    `json:"mime_type"`
	ContentHash []byte    `json:"content_hash"`
	FileSize    int       `json:"file_size"`
	Position    int       `json:"position"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
