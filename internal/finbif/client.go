// Package finbif reads preserved specimen records from the FinBIF
// biodiversity warehouse (api.laji.fi) and downloads their label images
// into batch directories the ingest layer understands.
//
// Warehouse queries authenticate with a bearer token. Image downloads go
// to separate media hosts that refuse scripted agents, so those requests
// carry a browser User-Agent instead of the token.
package finbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/entolabel/specimen-digitizer/internal/common"
)

const (
	recordBasisPreserved = "PRESERVED_SPECIMEN"

	// Seeded shuffle: repeated harvests list documents in the same order.
	defaultOrderBy = "RANDOM:42"

	defaultPageSize = 100
)

// Client talks to the FinBIF warehouse API.
type Client struct {
	cfg        common.FinBIFConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a warehouse client from configuration.
func NewClient(cfg common.FinBIFConfig, logger *slog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// UnitPage is one page of the warehouse unit list.
type UnitPage struct {
	CurrentPage int        `json:"currentPage"`
	LastPage    int        `json:"lastPage"`
	Total       int        `json:"total"`
	Results     []UnitItem `json:"results"`
}

// UnitItem is a single row of the unit list. Only the fields needed to
// locate the owning document are decoded.
type UnitItem struct {
	Document struct {
		DocumentID string `json:"documentId"`
	} `json:"document"`
	Unit struct {
		UnitID string `json:"unitId"`
	} `json:"unit"`
}

// Media is one media attachment of a specimen unit.
type Media struct {
	ID        string `json:"id"`
	MediaType string `json:"mediaType"`
	FullURL   string `json:"fullURL"`
}

// Unit is one specimen unit inside a gathering.
type Unit struct {
	UnitID string  `json:"unitId"`
	Media  []Media `json:"media"`
}

// Gathering groups the units collected at one event.
type Gathering struct {
	GatheringID string `json:"gatheringId"`
	Units       []Unit `json:"units"`
}

// Document is a warehouse document with its gatherings.
type Document struct {
	DocumentID   string      `json:"documentId"`
	CollectionID string      `json:"collectionId"`
	Gatherings   []Gathering `json:"gatherings"`
}

// SpecimenRecord is a full single-document response. Raw holds the
// record as received so it can be archived next to the downloaded
// images.
type SpecimenRecord struct {
	Document Document        `json:"document"`
	Raw      json.RawMessage `json:"-"`
}

// Images returns every IMAGE media entry that carries a download URL, in
// document order.
func (d *Document) Images() []Media {
	var out []Media
	for _, g := range d.Gatherings {
		for _, u := range g.Units {
			for _, m := range u.Media {
				if m.MediaType == "IMAGE" && m.FullURL != "" {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// ListPage fetches one page of preserved specimen units with media for
// the configured collection.
func (c *Client) ListPage(ctx context.Context, page int) (*UnitPage, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("cache", "false")
	q.Set("collectionId", c.cfg.CollectionID)
	q.Set("recordBasis", recordBasisPreserved)
	q.Set("hasUnitMedia", "true")
	q.Set("orderBy", defaultOrderBy)

	body, err := c.getAPI(ctx, "/warehouse/query/unit/list", q)
	if err != nil {
		return nil, err
	}
	var up UnitPage
	if err := json.Unmarshal(body, &up); err != nil {
		return nil, fmt.Errorf("decode unit list: %w: %w", common.ErrExternalService, err)
	}
	return &up, nil
}

// FetchDocument fetches the full warehouse record for one document. The
// warehouse answers either with the record itself or with a one-element
// results array; both shapes are accepted.
func (c *Client) FetchDocument(ctx context.Context, documentID string) (*SpecimenRecord, error) {
	q := url.Values{}
	q.Set("documentId", documentID)

	body, err := c.getAPI(ctx, "/warehouse/query/single", q)
	if err != nil {
		return nil, err
	}
	rec, err := decodeSingleResponse(body)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w: %w", documentID, common.ErrExternalService, err)
	}
	return rec, nil
}

func decodeSingleResponse(body []byte) (*SpecimenRecord, error) {
	var rec SpecimenRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	if rec.Document.DocumentID != "" {
		rec.Raw = append(json.RawMessage(nil), body...)
		return &rec, nil
	}

	var wrapped struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Results) == 0 {
		return nil, fmt.Errorf("no document in response: %w", common.ErrNotFound)
	}
	first := wrapped.Results[0]
	rec = SpecimenRecord{}
	if err := json.Unmarshal(first, &rec); err != nil {
		return nil, err
	}
	rec.Raw = append(json.RawMessage(nil), first...)
	return &rec, nil
}

// DownloadImage fetches one media file with the browser User-Agent.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("image request %s: %w", imageURL, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w: %w", imageURL, common.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image %s returned status %d: %w", imageURL, resp.StatusCode, common.ErrExternalService)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w: %w", imageURL, common.ErrExternalService, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s has empty body: %w", imageURL, common.ErrExternalService)
	}
	return data, nil
}

func (c *Client) getAPI(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.cfg.AccessToken == "" {
		return nil, common.NewAppError("FINBIF_CONFIG", "FINBIF_ACCESS_TOKEN is not set", common.ErrInvalidInput)
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("warehouse request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warehouse %s: %w: %w", path, common.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("warehouse %s returned status %d: %w", path, resp.StatusCode, common.ErrExternalService)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read warehouse response %s: %w: %w", path, common.ErrExternalService, err)
	}
	return body, nil
}
