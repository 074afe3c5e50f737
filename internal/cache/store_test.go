package cache

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewFSStore(root, nil)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return store, root
}

func TestFSStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	key := Key(StageTranscription, "1", "prompt-fp", "image-fp")
	payload := json.RawMessage(`{"locality":{"text":"Helsinki","confidence":0.9}}`)

	err := store.Put(key, Entry{
		Stage:            StageTranscription,
		InputFingerprint: "image-fp",
		Result:           payload,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, found := store.Get(key)
	if !found {
		t.Fatal("Get: entry not found after Put")
	}
	if entry.Key != key {
		t.Errorf("entry.Key = %q, want %q", entry.Key, key)
	}
	if entry.Stage != StageTranscription {
		t.Errorf("entry.Stage = %q, want %q", entry.Stage, StageTranscription)
	}
	if entry.InputFingerprint != "image-fp" {
		t.Errorf("entry.InputFingerprint = %q, want %q", entry.InputFingerprint, "image-fp")
	}
	if !bytes.Equal(entry.Result, payload) {
		t.Errorf("entry.Result = %s, want %s", entry.Result, payload)
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("entry.Timestamp %q is not RFC3339: %v", entry.Timestamp, err)
	}
}

func TestFSStoreMiss(t *testing.T) {
	store, _ := newTestStore(t)
	if _, found := store.Get(Key(StageTranscription, "1", "p", "never-written")); found {
		t.Error("Get reported a hit for a key that was never written")
	}
}

func TestFSStoreEntriesAreImmutable(t *testing.T) {
	store, _ := newTestStore(t)

	key := Key(StageConsolidation, "1", "p", "i")
	first := json.RawMessage(`{"value":"Lot 14"}`)
	second := json.RawMessage(`{"value":"Lot 41"}`)

	if err := store.Put(key, Entry{Stage: StageConsolidation, InputFingerprint: "i", Result: first}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := store.Put(key, Entry{Stage: StageConsolidation, InputFingerprint: "i", Result: second}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	entry, found := store.Get(key)
	if !found {
		t.Fatal("entry missing after double Put")
	}
	if !bytes.Equal(entry.Result, first) {
		t.Errorf("entry.Result = %s, want the first write %s", entry.Result, first)
	}
}

func TestFSStoreCorruptEntryIsAMiss(t *testing.T) {
	store, root := newTestStore(t)

	key := Key(StageTranscription, "1", "p", "i")
	path := filepath.Join(root, StageTranscription, key[:2], key+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("writing corrupt entry: %v", err)
	}

	if _, found := store.Get(key); found {
		t.Fatal("Get returned a corrupt entry instead of a miss")
	}

	// Recomputed result may replace the corrupt file.
	payload := json.RawMessage(`{"ok":true}`)
	if err := store.Put(key, Entry{Stage: StageTranscription, InputFingerprint: "i", Result: payload}); err != nil {
		t.Fatalf("Put over corrupt entry: %v", err)
	}
	entry, found := store.Get(key)
	if !found {
		t.Fatal("entry missing after repair")
	}
	if !bytes.Equal(entry.Result, payload) {
		t.Errorf("entry.Result = %s, want %s", entry.Result, payload)
	}
}

func TestFSStoreStageLayout(t *testing.T) {
	store, root := newTestStore(t)

	tKey := Key(StageTranscription, "1", "p", "i")
	cKey := Key(StageConsolidation, "1", "p", "i")
	if tKey == cKey {
		t.Fatal("stage does not separate keys")
	}

	if err := store.Put(tKey, Entry{Stage: StageTranscription, InputFingerprint: "i", Result: json.RawMessage(`1`)}); err != nil {
		t.Fatalf("Put transcription: %v", err)
	}
	if err := store.Put(cKey, Entry{Stage: StageConsolidation, InputFingerprint: "i", Result: json.RawMessage(`2`)}); err != nil {
		t.Fatalf("Put consolidation: %v", err)
	}

	wantPaths := []string{
		filepath.Join(root, StageTranscription, tKey[:2], tKey+".json"),
		filepath.Join(root, StageConsolidation, cKey[:2], cKey+".json"),
	}
	for _, p := range wantPaths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected entry file at %s: %v", p, err)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	key := Key(StageTranscription, "1", "p", "i")
	payload := json.RawMessage(`{"n":1}`)
	if err := store.Put(key, Entry{Stage: StageTranscription, Result: payload}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(key, Entry{Stage: StageTranscription, Result: json.RawMessage(`{"n":2}`)}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	entry, found := store.Get(key)
	if !found {
		t.Fatal("miss after Put")
	}
	if !bytes.Equal(entry.Result, payload) {
		t.Errorf("entry.Result = %s, want %s", entry.Result, payload)
	}

	// Mutating the returned slice must not reach the stored entry.
	entry.Result[1] = 'x'
	again, _ := store.Get(key)
	if !bytes.Equal(again.Result, payload) {
		t.Error("stored entry mutated through Get result")
	}
}
