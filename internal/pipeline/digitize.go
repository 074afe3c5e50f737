package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/entity"
	"github.com/entolabel/specimen-digitizer/internal/llm"
	"github.com/entolabel/specimen-digitizer/internal/transcript"
)

// DigitizeStage transcribes every image of a specimen through the vision
// model, one cache entry per image.
type DigitizeStage struct {
	transcriber llm.Transcriber
	store       cache.Store
	runVersion  string
	modelName   string
	concurrency int
	imageWait   time.Duration
	logger      *slog.Logger
}

func NewDigitizeStage(
	transcriber llm.Transcriber,
	store cache.Store,
	runVersion, modelName string,
	concurrency int,
	imageWait time.Duration,
	logger *slog.Logger,
) *DigitizeStage {
	if concurrency <= 0 {
		concurrency = 2
	}
	if imageWait <= 0 {
		imageWait = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DigitizeStage{
		transcriber: transcriber,
		store:       store,
		runVersion:  runVersion,
		modelName:   modelName,
		concurrency: concurrency,
		imageWait:   imageWait,
		logger:      logger,
	}
}

// DigitizeResult is the transcript gathered from a specimen's images.
type DigitizeResult struct {
	Observations []transcript.Observation
	// Complete is true only when every registered image yielded readings.
	Complete   bool
	CacheHits  int
	ModelCalls int
}

type imageOutcome struct {
	readings  map[string]llm.Observation
	fromCache bool
	err       error
}

// Run transcribes the specimen's images, bounded by the stage concurrency.
// An image that cannot be read or transcribed is skipped and only lowers
// coverage; the returned error is non-nil solely when cache storage fails.
func (s *DigitizeStage) Run(ctx context.Context, sp *entity.Specimen, images []*entity.SpecimenImage) (*DigitizeResult, error) {
	if len(images) == 0 {
		s.logger.Warn("digitize.no_images", "specimen_id", sp.ID)
		return &DigitizeResult{Complete: false}, nil
	}

	outcomes := make([]imageOutcome, len(images))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func(i int, img *entity.SpecimenImage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.transcribeOne(ctx, sp, img)
		}(i, img)
	}
	wg.Wait()

	res := &DigitizeResult{Complete: true}
	for i, img := range images {
		out := outcomes[i]
		if out.err != nil {
			if common.IsFatal(out.err) {
				return nil, out.err
			}
			s.logger.Warn("digitize.image.skipped",
				"specimen_id", sp.ID, "image_id", img.ID, "error", out.err)
			res.Complete = false
			continue
		}
		if out.fromCache {
			res.CacheHits++
		} else {
			res.ModelCalls++
		}
		res.Observations = append(res.Observations, s.toObservations(img, out.readings)...)
	}
	return res, nil
}

func (s *DigitizeStage) transcribeOne(ctx context.Context, sp *entity.Specimen, img *entity.SpecimenImage) imageOutcome {
	data, err := os.ReadFile(img.SourcePath)
	if err != nil {
		return imageOutcome{err: fmt.Errorf("read image %s: %w", img.SourcePath, err)}
	}

	key := cache.Key(
		cache.StageTranscription,
		s.runVersion,
		s.transcriber.TranscriptionFingerprint(),
		cache.Fingerprint(data, canonicalHints(sp.Hints)),
	)

	if entry, ok := s.store.Get(key); ok {
		var readings map[string]llm.Observation
		if err := json.Unmarshal(entry.Result, &readings); err == nil {
			s.logger.Debug("digitize.image.cached", "image_id", img.ID, "key", key)
			return imageOutcome{readings: readings, fromCache: true}
		}
		// decodes as an entry but not as readings; treat as a miss
		s.logger.Warn("digitize.cache.result_undecodable", "key", key)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.imageWait)
	defer cancel()
	readings, _, err := s.transcriber.TranscribeImage(callCtx, llm.TranscribeRequest{
		ImageBytes: data,
		MIMEType:   img.MIMEType,
		Hints:      sp.Hints,
	})
	if err != nil {
		return imageOutcome{err: err}
	}

	result, err := json.Marshal(readings)
	if err != nil {
		return imageOutcome{err: fmt.Errorf("encode readings: %w", err)}
	}
	if err := s.store.Put(key, cache.Entry{
		Key:              key,
		Stage:            cache.StageTranscription,
		InputFingerprint: cache.Fingerprint(data, canonicalHints(sp.Hints)),
		Result:           result,
		Timestamp:        time.Now().UTC(),
	}); err != nil {
		if common.IsFatal(err) {
			return imageOutcome{err: err}
		}
		s.logger.Warn("digitize.cache.put_failed", "key", key, "error", err)
	}
	return imageOutcome{readings: readings}
}

// toObservations flattens one image's readings in field-name order.
func (s *DigitizeStage) toObservations(img *entity.SpecimenImage, readings map[string]llm.Observation) []transcript.Observation {
	fields := make([]string, 0, len(readings))
	for f := range readings {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	obs := make([]transcript.Observation, 0, len(fields))
	for _, f := range fields {
		r := readings[f]
		obs = append(obs, transcript.Observation{
			ImageID:    img.ID.String(),
			Position:   strconv.Itoa(img.Position),
			Field:      f,
			Text:       r.Text,
			Confidence: r.Confidence,
			Source:     s.modelName,
		})
	}
	return obs
}

// canonicalHints serializes hints deterministically for fingerprinting.
func canonicalHints(hints map[string]string) []byte {
	if len(hints) == 0 {
		return nil
	}
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, hints[k]...)
		buf = append(buf, '\n')
	}
	return buf
}
