// Package gemini adapts Google Gemini to the transcription and consolidation
// collaborator contracts. One call per request; failures are returned to the
// caller, never retried here.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/entolabel/specimen-digitizer/internal/cache"
	"github.com/entolabel/specimen-digitizer/internal/common"
	"github.com/entolabel/specimen-digitizer/internal/fieldschema"
	"github.com/entolabel/specimen-digitizer/internal/llm"
)

type Client struct {
	cfg    Config
	client *genai.Client
	schema *fieldschema.Schema
	logger *slog.Logger
}

// NewClient dials Gemini. The field schema is fixed per client because it is
// part of the transcription prompt identity.
func NewClient(ctx context.Context, cfg Config, schema *fieldschema.Schema, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, common.NewAppError("GEMINI_CONFIG", "GEMINI_API_KEY is required", common.ErrInvalidInput)
	}
	if schema == nil {
		schema = fieldschema.Default()
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{cfg: cfg, client: gc, schema: schema, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// TranscribeImage implements llm.Transcriber.
func (c *Client) TranscribeImage(ctx context.Context, req llm.TranscribeRequest) (map[string]llm.Observation, []byte, error) {
	rid := requestID(ctx)
	start := time.Now()

	c.logger.Info("vision.transcribe.start",
		"req_id", rid,
		"specimen_id", common.SpecimenIDFromContext(ctx),
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"image_bytes", len(req.ImageBytes),
		"mime", req.MIMEType,
		"hints", len(req.Hints),
	)

	if len(req.ImageBytes) == 0 {
		return nil, nil, common.NewAppError("VISION_INPUT", "empty image", common.ErrMissingInput)
	}

	prompt := llm.BuildTranscriptionPrompt(c.schema, req.Hints)
	parts := []genai.Part{
		genai.Text(prompt),
		genai.ImageData(imageFormat(req.MIMEType), req.ImageBytes),
	}

	raw, err := c.generate(ctx, parts)
	if err != nil {
		c.logger.Error("vision.transcribe.call_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}

	schema := llm.BuildTranscriptionJSONSchema(c.schema.FieldNames())
	if err := llm.ValidateJSONAgainstSchema(schema, raw); err != nil {
		c.logger.Error("vision.transcribe.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, fmt.Errorf("transcription shape: %w: %w", common.ErrExternalService, err)
	}

	var out map[string]llm.Observation
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Error("vision.transcribe.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, raw, fmt.Errorf("unmarshal transcription: %w: %w", common.ErrExternalService, err)
	}
	for field, obs := range out {
		if obs.Confidence == 0 {
			obs.Confidence = llm.DefaultConfidence
			out[field] = obs
		}
	}

	c.logger.Info("vision.transcribe.ok",
		"req_id", rid,
		"fields_found", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, raw, nil
}

// TranscriptionFingerprint implements llm.Transcriber.
func (c *Client) TranscriptionFingerprint() string {
	return cache.FingerprintStrings(
		"transcription-prompt",
		llm.TranscriptionPromptVersion,
		c.cfg.Model,
		fmt.Sprintf("%g", c.cfg.Temperature),
		c.schema.Fingerprint(),
	)
}

// Consolidate implements llm.Consolidator.
func (c *Client) Consolidate(ctx context.Context, req llm.ConsolidateRequest) (llm.Decision, []byte, error) {
	rid := requestID(ctx)
	start := time.Now()

	c.logger.Info("arbiter.consolidate.start",
		"req_id", rid,
		"specimen_id", common.SpecimenIDFromContext(ctx),
		"model", c.cfg.Model,
		"field", req.Field,
		"candidates", len(req.Candidates),
	)

	if len(req.Candidates) == 0 {
		return llm.Decision{}, nil, common.NewAppError("ARBITER_INPUT", "no candidates", common.ErrMissingInput)
	}

	prompt := llm.BuildConsolidationPrompt(req)
	raw, err := c.generate(ctx, []genai.Part{genai.Text(prompt)})
	if err != nil {
		c.logger.Error("arbiter.consolidate.call_failed",
			"req_id", rid, "field", req.Field, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Decision{}, nil, err
	}

	if err := llm.ValidateJSONAgainstSchema(llm.BuildConsolidationJSONSchema(), raw); err != nil {
		c.logger.Error("arbiter.consolidate.contract_violation",
			"req_id", rid, "field", req.Field, "error", err, "content", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Decision{}, raw, fmt.Errorf("consolidation shape: %w: %w", common.ErrArbiterContract, err)
	}

	var decision llm.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return llm.Decision{}, raw, fmt.Errorf("unmarshal decision: %w: %w", common.ErrArbiterContract, err)
	}
	decision.Value = strings.TrimSpace(decision.Value)
	if decision.Value == "" {
		return llm.Decision{}, raw, common.NewAppError("ARBITER_EMPTY", "empty decision value", common.ErrArbiterContract)
	}

	c.logger.Info("arbiter.consolidate.ok",
		"req_id", rid,
		"field", req.Field,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return decision, raw, nil
}

// ConsolidationFingerprint implements llm.Consolidator.
func (c *Client) ConsolidationFingerprint() string {
	return cache.FingerprintStrings(
		"consolidation-prompt",
		llm.ConsolidationPromptVersion,
		c.cfg.Model,
		fmt.Sprintf("%g", c.cfg.Temperature),
	)
}

// generate runs one model call under the configured deadline and returns the
// JSON block of the answer.
func (c *Client) generate(ctx context.Context, parts []genai.Part) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(c.cfg.Temperature)

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w: %w", common.ErrExternalService, err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates from gemini: %w", common.ErrExternalService)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("empty content from gemini: %w", common.ErrExternalService)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("no text parts from gemini: %w", common.ErrExternalService)
	}
	return llm.ExtractJSONBlock(b.String()), nil
}

// imageFormat maps a MIME type to the subtype genai expects.
func imageFormat(mime string) string {
	if sub, ok := strings.CutPrefix(mime, "image/"); ok && sub != "" {
		return sub
	}
	return "jpeg"
}

// requestID reuses the caller's request ID when the context carries one
// so model calls correlate with the RPC that triggered them.
func requestID(ctx context.Context) string {
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		return rid
	}
	return uuid.New().String()
}
