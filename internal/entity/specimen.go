// Package entity holds plain domain structs passed between layers.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Specimen represents a registered museum specimen for data transfer between layers.
type Specimen struct {
	ID        uuid.UUID         `json:"id"`
	CatalogID string            `json:"catalog_id"`
	Source    string            `json:"source"`
	Status    string            `json:"status"`
	Hints     map[string]string `json:"hints,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
