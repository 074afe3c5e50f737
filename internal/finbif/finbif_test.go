package finbif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/entolabel/specimen-digitizer/internal/common"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// warehouseFixture fakes the warehouse list/single endpoints plus a
// media host, recording the headers and pages it was asked for.
type warehouseFixture struct {
	srv *httptest.Server

	mu         sync.Mutex
	pages      []int
	singleHits map[string]int
	imageHits  map[string]int
	imageUA    string
	authSeen   map[string]bool

	// docID -> list of image paths on the fixture host
	docs     map[string][]string
	pageDocs [][]string
	failDocs map[string]bool
}

func newWarehouseFixture(t *testing.T) *warehouseFixture {
	t.Helper()
	f := &warehouseFixture{
		singleHits: make(map[string]int),
		imageHits:  make(map[string]int),
		authSeen:   make(map[string]bool),
		docs:       make(map[string][]string),
		failDocs:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/warehouse/query/unit/list", f.handleList)
	mux.HandleFunc("/warehouse/query/single", f.handleSingle)
	mux.HandleFunc("/media/", f.handleImage)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// addDocument registers a document on the given page with n images.
func (f *warehouseFixture) addDocument(page int, docID string, n int) {
	for len(f.pageDocs) < page {
		f.pageDocs = append(f.pageDocs, nil)
	}
	f.pageDocs[page-1] = append(f.pageDocs[page-1], docID)
	for i := 1; i <= n; i++ {
		f.docs[docID] = append(f.docs[docID], fmt.Sprintf("/media/%s/%d.jpg", SanitizeID(docID), i))
	}
}

func (f *warehouseFixture) config() common.FinBIFConfig {
	return common.FinBIFConfig{
		BaseURL:      f.srv.URL,
		AccessToken:  "token123",
		CollectionID: "HR.168",
		PageSize:     100,
		FetchDelay:   0,
		UserAgent:    "Mozilla/5.0 (test)",
	}
}

func (f *warehouseFixture) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	f.pages = append(f.pages, page)
	f.authSeen[r.Header.Get("Authorization")] = true

	var results []map[string]any
	if page >= 1 && page <= len(f.pageDocs) {
		for _, docID := range f.pageDocs[page-1] {
			results = append(results, map[string]any{
				"document": map[string]any{"documentId": docID},
				"unit":     map[string]any{"unitId": docID + "#U.1"},
			})
		}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"currentPage": page,
		"lastPage":    len(f.pageDocs),
		"total":       len(f.docs),
		"results":     results,
	})
}

func (f *warehouseFixture) handleSingle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	docID := r.URL.Query().Get("documentId")
	f.singleHits[docID]++
	f.authSeen[r.Header.Get("Authorization")] = true

	if f.failDocs[docID] {
		http.Error(w, "warehouse error", http.StatusInternalServerError)
		return
	}
	paths, ok := f.docs[docID]
	if !ok {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}

	media := make([]map[string]any, 0, len(paths))
	for i, p := range paths {
		media = append(media, map[string]any{
			"id":        fmt.Sprintf("%s/M.%d", docID, i+1),
			"mediaType": "IMAGE",
			"fullURL":   f.srv.URL + p,
		})
	}
	json.NewEncoder(w).Encode(map[string]any{
		"document": map[string]any{
			"documentId": docID,
			"gatherings": []any{
				map[string]any{
					"units": []any{map[string]any{"media": media}},
				},
			},
		},
	})
}

func (f *warehouseFixture) handleImage(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.imageHits[r.URL.Path]++
	f.imageUA = r.Header.Get("User-Agent")
	f.mu.Unlock()

	w.Write([]byte("image-bytes-" + r.URL.Path))
}

func newTestHarvester(t *testing.T, f *warehouseFixture) *Harvester {
	t.Helper()
	return NewHarvester(NewClient(f.config(), testLogger()), testLogger())
}

func TestHarvestCollectionDownloadsImages(t *testing.T) {
	f := newWarehouseFixture(t)
	f.addDocument(1, "http://tun.fi/JX.1", 2)
	f.addDocument(1, "http://tun.fi/JX.2", 1)
	// Same document listed again through a second unit.
	f.pageDocs[0] = append(f.pageDocs[0], "http://tun.fi/JX.1")

	root := t.TempDir()
	stats, err := newTestHarvester(t, f).HarvestCollection(context.Background(), root, 0)
	if err != nil {
		t.Fatalf("HarvestCollection: %v", err)
	}
	if stats.Documents != 2 || stats.Images != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 2 documents, 3 images, 0 failed", *stats)
	}
	if got := f.singleHits["http://tun.fi/JX.1"]; got != 1 {
		t.Errorf("document fetched %d times, want 1", got)
	}

	dir := filepath.Join(root, "http___tun.fi_JX.1")
	sidecar, err := os.ReadFile(filepath.Join(dir, DocumentFilename))
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if !json.Valid(sidecar) {
		t.Error("sidecar is not valid JSON")
	}
	var doc SpecimenRecord
	if err := json.Unmarshal(sidecar, &doc); err != nil {
		t.Fatalf("decoding sidecar: %v", err)
	}
	if doc.Document.DocumentID != "http://tun.fi/JX.1" {
		t.Errorf("sidecar documentId = %q", doc.Document.DocumentID)
	}

	img := filepath.Join(dir, "http___tun.fi_JX.1_M.1.jpg")
	if _, err := os.Stat(img); err != nil {
		t.Errorf("missing image file: %v", err)
	}

	if !f.authSeen["Bearer token123"] {
		t.Error("warehouse calls did not carry the bearer token")
	}
	if f.imageUA != "Mozilla/5.0 (test)" {
		t.Errorf("image User-Agent = %q", f.imageUA)
	}
}

func TestHarvestCollectionWalksAllPages(t *testing.T) {
	f := newWarehouseFixture(t)
	f.addDocument(1, "http://tun.fi/JX.10", 1)
	f.addDocument(2, "http://tun.fi/JX.20", 1)
	f.addDocument(2, "http://tun.fi/JX.21", 1)

	stats, err := newTestHarvester(t, f).HarvestCollection(context.Background(), t.TempDir(), 0)
	if err != nil {
		t.Fatalf("HarvestCollection: %v", err)
	}
	if stats.Documents != 3 {
		t.Errorf("documents = %d, want 3", stats.Documents)
	}
	if len(f.pages) != 2 || f.pages[0] != 1 || f.pages[1] != 2 {
		t.Errorf("pages requested = %v, want [1 2]", f.pages)
	}
}

func TestHarvestCollectionContinuesAfterDocumentFailure(t *testing.T) {
	f := newWarehouseFixture(t)
	f.addDocument(1, "http://tun.fi/JX.31", 1)
	f.addDocument(1, "http://tun.fi/JX.32", 1)
	f.failDocs["http://tun.fi/JX.31"] = true

	stats, err := newTestHarvester(t, f).HarvestCollection(context.Background(), t.TempDir(), 0)
	if err != nil {
		t.Fatalf("HarvestCollection: %v", err)
	}
	if stats.Documents != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 document, 1 failed", *stats)
	}
}

func TestHarvestDocumentSkipsExistingImages(t *testing.T) {
	f := newWarehouseFixture(t)
	f.addDocument(1, "http://tun.fi/JX.40", 2)

	root := t.TempDir()
	h := newTestHarvester(t, f)
	if _, err := h.HarvestDocument(context.Background(), root, "http://tun.fi/JX.40"); err != nil {
		t.Fatalf("first harvest: %v", err)
	}

	res, err := h.HarvestDocument(context.Background(), root, "http://tun.fi/JX.40")
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if res.Images != 0 || res.Skipped != 2 {
		t.Errorf("second harvest = %+v, want 0 downloads, 2 skipped", *res)
	}
	for path, hits := range f.imageHits {
		if hits != 1 {
			t.Errorf("image %s fetched %d times, want 1", path, hits)
		}
	}
}

func TestFetchDocumentAcceptsResultsWrapper(t *testing.T) {
	inner := `{"document":{"documentId":"http://tun.fi/JX.50","gatherings":[]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"results":[%s]}`, inner)
	}))
	defer srv.Close()

	cfg := common.FinBIFConfig{BaseURL: srv.URL, AccessToken: "t"}
	rec, err := NewClient(cfg, testLogger()).FetchDocument(context.Background(), "http://tun.fi/JX.50")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if rec.Document.DocumentID != "http://tun.fi/JX.50" {
		t.Errorf("documentId = %q", rec.Document.DocumentID)
	}
	if string(rec.Raw) != inner {
		t.Errorf("raw = %s, want inner element", rec.Raw)
	}
}

func TestListPageRequiresToken(t *testing.T) {
	cfg := common.FinBIFConfig{BaseURL: "http://unused.invalid"}
	_, err := NewClient(cfg, testLogger()).ListPage(context.Background(), 1)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSanitizeID(t *testing.T) {
	got := SanitizeID("http://tun.fi/JX.123")
	if got != "http___tun.fi_JX.123" {
		t.Errorf("SanitizeID = %q", got)
	}
}

func TestMediaFilename(t *testing.T) {
	tests := []struct {
		name  string
		media Media
		want  string
	}{
		{
			name:  "extension from url",
			media: Media{ID: "http://id.luomus.fi/M.1", FullURL: "https://host/img/scan.PNG"},
			want:  "http___id.luomus.fi_M.1.png",
		},
		{
			name:  "no extension",
			media: Media{ID: "http://tun.fi/M.2", FullURL: "https://host/render/full"},
			want:  "http___tun.fi_M.2.jpg",
		},
		{
			name:  "overlong extension",
			media: Media{ID: "http://tun.fi/M.3", FullURL: "https://host/scan.jpeg2000"},
			want:  "http___tun.fi_M.3.jpg",
		},
		{
			name:  "query string after dot",
			media: Media{ID: "http://tun.fi/M.4", FullURL: "https://host/img.php?f=a"},
			want:  "http___tun.fi_M.4.jpg",
		},
		{
			name:  "empty url",
			media: Media{ID: "http://tun.fi/M.5"},
			want:  "http___tun.fi_M.5.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.media.Filename(); got != tt.want {
				t.Errorf("Filename() = %q, want %q", got, tt.want)
			}
		})
	}
}
