package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/repository"
)

// FSIngestor reads specimen directories from the local filesystem.
type FSIngestor struct {
	Specimens repository.SpecimenRepository
	Images    repository.SpecimenImageRepository
	Logger    *slog.Logger
}

func NewFSIngestor(specimens repository.SpecimenRepository, images repository.SpecimenImageRepository, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{
		Specimens: specimens,
		Images:    images,
		Logger:    logger,
	}
}

// IngestSpecimenDir registers the directory as one specimen. The directory
// name is the catalog ID; image files become views ordered by filename; an
// optional hints.json supplies per-specimen context.
func (i *FSIngestor) IngestSpecimenDir(ctx context.Context, dir, source string) (SpecimenResult, error) {
	var out SpecimenResult

	abs, err := filepath.Abs(dir)
	if err != nil {
		return out, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return out, err
	}
	if !info.IsDir() {
		return out, fmt.Errorf("%s is not a directory", abs)
	}

	catalogID := filepath.Base(abs)
	out.CatalogID = catalogID

	hints, err := readHints(filepath.Join(abs, HintsFilename))
	if err != nil {
		i.Logger.Warn("hints file unreadable, ignoring", "dir", abs, "error", err)
	}

	sp, existed, err := i.Specimens.UpsertByCatalogID(ctx, catalogID, source, hints)
	if err != nil {
		return out, err
	}
	out.SpecimenID = sp.ID.String()
	out.Existed = existed

	names, err := imageFilenames(abs)
	if err != nil {
		return out, err
	}

	for pos, name := range names {
		path := filepath.Join(abs, name)
		res := i.ingestImage(ctx, sp, path, name, pos)
		out.Images = append(out.Images, res)
	}

	i.Logger.Info("specimen ingested",
		"catalog_id", catalogID,
		"specimen_id", sp.ID,
		"images", len(out.Images),
		"existed", existed,
	)
	return out, nil
}

func (i *FSIngestor) ingestImage(ctx context.Context, sp *entity.Specimen, path, name string, position int) ImageResult {
	out := ImageResult{SourcePath: path, Position: position}

	f, err := os.Open(path)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	defer func() {
		if err := f.Close(); err != nil {
			i.Logger.Warn("close image failed", "path", path, "error", err)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	sum := h.Sum(nil)
	out.HashHex = hex.EncodeToString(sum)

	row, dedup, err := i.Images.UpsertByHash(ctx, &entity.SpecimenImage{
		SpecimenID:  sp.ID,
		SourcePath:  path,
		Filename:    name,
		MIMEType:    constants.MIMEForExt(filepath.Ext(name)),
		ContentHash: sum,
		FileSize:    int(size),
		Position:    position,
		UploadedAt:  time.Now().UTC(),
	})
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.ImageID = row.ID.String()
	out.Deduplicated = dedup
	return out
}

// IngestRoot walks the immediate subdirectories of root, treating each as
// one specimen. Failures are reported per directory, the walk continues.
func (i *FSIngestor) IngestRoot(ctx context.Context, root, source string, skipHidden bool) ([]SpecimenResult, BatchStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, BatchStats{}, errors.New("root path is required")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, BatchStats{}, fmt.Errorf("read root: %w", err)
	}

	var results []SpecimenResult
	var stats BatchStats
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if skipHidden && IsHidden(e.Name()) {
			continue
		}
		res, err := i.IngestSpecimenDir(ctx, filepath.Join(root, e.Name()), source)
		if err != nil {
			i.Logger.Error("specimen directory failed", "dir", e.Name(), "error", err)
			stats.Failed++
			continue
		}
		stats.Specimens++
		for _, img := range res.Images {
			if img.Err != "" {
				stats.Failed++
				continue
			}
			stats.Images++
			if img.Deduplicated {
				stats.Deduplicated++
			}
		}
		results = append(results, res)
	}
	return results, stats, nil
}

// imageFilenames lists the accepted image files in dir, sorted by name so
// positions are stable across runs.
func imageFilenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || IsHidden(e.Name()) {
			continue
		}
		if !AllowedExt(filepath.Ext(e.Name())) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readHints(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var hints map[string]string
	if err := json.Unmarshal(data, &hints); err != nil {
		return nil, err
	}
	return hints, nil
}
