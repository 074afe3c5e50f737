// Package ingest registers specimens and their label images from the local
// filesystem. A batch root holds one directory per specimen, named by its
// catalog ID; the image files inside become the specimen's views, ordered
// by filename.
package ingest

import (
	"context"
)

// Origin names for the specimen source column.
const (
	SourceLocal  = "local"
	SourceFinBIF = "finbif"
)

// ImageResult is the per-image ingest outcome.
type ImageResult struct {
	SourcePath   string
	ImageID      string
	Position     int
	Deduplicated bool
	HashHex      string
	Err          string
}

// SpecimenResult is the per-directory ingest outcome.
type SpecimenResult struct {
	CatalogID  string
	SpecimenID string
	Existed    bool
	Images     []ImageResult
}

// BatchStats summarizes a batch-root ingest.
type BatchStats struct {
	Specimens    uint32
	Images       uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor is the behavior the service and CLIs depend on.
type Ingestor interface {
	// IngestSpecimenDir registers one specimen directory.
	IngestSpecimenDir(ctx context.Context, dir, source string) (SpecimenResult, error)
	// IngestRoot registers every specimen directory under root.
	IngestRoot(ctx context.Context, root, source string, skipHidden bool) ([]SpecimenResult, BatchStats, error)
}
