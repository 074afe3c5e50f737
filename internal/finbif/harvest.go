package finbif

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/entolabel/specimen-digitizer/internal/common"
)

// DocumentFilename is the sidecar written next to the images of each
// harvested document.
const DocumentFilename = "document.json"

// Harvester downloads warehouse documents and their label images into a
// batch directory tree: one directory per document named by its
// sanitized identifier, holding the raw document JSON and every image of
// its units.
type Harvester struct {
	client *Client
	logger *slog.Logger
	delay  time.Duration
}

// NewHarvester creates a harvester on top of a warehouse client.
func NewHarvester(client *Client, logger *slog.Logger) *Harvester {
	return &Harvester{
		client: client,
		logger: logger,
		delay:  client.cfg.FetchDelay,
	}
}

// HarvestStats summarizes one harvest pass.
type HarvestStats struct {
	Documents int
	Images    int
	Skipped   int
	Failed    int
}

// DocumentResult reports what harvesting one document produced.
type DocumentResult struct {
	DocumentID string
	Dir        string
	Images     int
	Skipped    int
}

// HarvestCollection walks the configured collection page by page and
// harvests every document, at most maxDocuments of them (0 means no
// limit). The unit list repeats documents with several units; each
// document is harvested once. Per-document failures are logged and
// counted, they do not stop the walk.
func (h *Harvester) HarvestCollection(ctx context.Context, root string, maxDocuments int) (*HarvestStats, error) {
	stats := &HarvestStats{}
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		up, err := h.client.ListPage(ctx, page)
		if err != nil {
			return stats, err
		}
		h.logger.Info("finbif.page",
			"page", up.CurrentPage,
			"last_page", up.LastPage,
			"units", len(up.Results))

		for _, item := range up.Results {
			docID := item.Document.DocumentID
			if docID == "" {
				continue
			}
			if _, ok := seen[docID]; ok {
				continue
			}
			seen[docID] = struct{}{}

			if maxDocuments > 0 && stats.Documents+stats.Failed >= maxDocuments {
				return stats, nil
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			res, err := h.HarvestDocument(ctx, root, docID)
			if err != nil {
				stats.Failed++
				h.logger.Error("finbif.document_failed", "document_id", docID, "error", err)
				continue
			}
			stats.Documents++
			stats.Images += res.Images
			stats.Skipped += res.Skipped
		}

		if len(up.Results) == 0 || (up.LastPage > 0 && page >= up.LastPage) {
			return stats, nil
		}
	}
}

// HarvestDocument fetches one document and writes its JSON sidecar and
// images under root. Images already present on disk are not downloaded
// again.
func (h *Harvester) HarvestDocument(ctx context.Context, root, documentID string) (*DocumentResult, error) {
	rec, err := h.client.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, SanitizeID(documentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w: %w", dir, common.ErrStorage, err)
	}
	if err := writeDocumentJSON(filepath.Join(dir, DocumentFilename), rec.Raw); err != nil {
		return nil, err
	}

	res := &DocumentResult{DocumentID: documentID, Dir: dir}
	for _, m := range rec.Document.Images() {
		path := filepath.Join(dir, m.Filename())
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			res.Skipped++
			continue
		}

		if h.delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(h.delay):
			}
		}
		data, err := h.client.DownloadImage(ctx, m.FullURL)
		if err != nil {
			return res, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return res, fmt.Errorf("writing %s: %w: %w", path, common.ErrStorage, err)
		}
		res.Images++
		h.logger.Debug("finbif.image",
			"document_id", documentID,
			"file", filepath.Base(path),
			"bytes", len(data))
	}

	h.logger.Info("finbif.document",
		"document_id", documentID,
		"dir", dir,
		"images", res.Images,
		"skipped", res.Skipped)
	return res, nil
}

func writeDocumentJSON(path string, raw json.RawMessage) error {
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document sidecar: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w: %w", path, common.ErrStorage, err)
	}
	return nil
}
