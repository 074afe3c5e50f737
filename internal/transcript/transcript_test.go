package transcript

import (
	"testing"
)

func TestAddAndRetrieve(t *testing.T) {
	store := NewStore("spec-1")

	kept := store.Add(Observation{ImageID: "img-a", Position: "front", Field: "locality", Text: "Helsinki", Confidence: 0.9})
	if !kept {
		t.Fatal("Add rejected a valid observation")
	}
	store.Add(Observation{ImageID: "img-b", Position: "back", Field: "locality", Text: "Helsinkl", Confidence: 0.7})
	store.Add(Observation{ImageID: "img-a", Position: "front", Field: "country", Text: "Finland", Confidence: 0.95})

	locality := store.Field("locality")
	if len(locality) != 2 {
		t.Fatalf("len(Field(locality)) = %d, want 2", len(locality))
	}
	if locality[0].ImageID != "img-a" || locality[1].ImageID != "img-b" {
		t.Errorf("insertion order lost: %s, %s", locality[0].ImageID, locality[1].ImageID)
	}

	fields := store.Fields()
	want := []string{"country", "locality"}
	if len(fields) != len(want) {
		t.Fatalf("Fields() = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("Fields()[%d] = %q, want %q", i, fields[i], want[i])
		}
	}

	if got := store.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestEmptyTextIsNotEvidence(t *testing.T) {
	store := NewStore("spec-1")

	if store.Add(Observation{ImageID: "img-a", Field: "locality", Text: ""}) {
		t.Error("Add kept an empty observation")
	}
	if store.Add(Observation{ImageID: "img-a", Field: "locality", Text: "   \t"}) {
		t.Error("Add kept a whitespace-only observation")
	}
	if len(store.Field("locality")) != 0 {
		t.Error("empty observations were stored")
	}
}

func TestDuplicateImageFieldKeepsFirst(t *testing.T) {
	store := NewStore("spec-1")

	store.Add(Observation{ImageID: "img-a", Field: "locality", Text: "first", Confidence: 0.5})
	if store.Add(Observation{ImageID: "img-a", Field: "locality", Text: "second", Confidence: 0.9}) {
		t.Error("duplicate (image, field) observation was kept")
	}

	obs := store.Field("locality")
	if len(obs) != 1 || obs[0].Text != "first" {
		t.Errorf("Field(locality) = %+v, want single first observation", obs)
	}
}

func TestFingerprintIgnoresInsertionOrder(t *testing.T) {
	a := NewStore("spec-1")
	a.Add(Observation{ImageID: "img-a", Field: "locality", Text: "Helsinki", Confidence: 0.9})
	a.Add(Observation{ImageID: "img-b", Field: "locality", Text: "Helsinkl", Confidence: 0.7})

	b := NewStore("spec-1")
	b.Add(Observation{ImageID: "img-b", Field: "locality", Text: "Helsinkl", Confidence: 0.7})
	b.Add(Observation{ImageID: "img-a", Field: "locality", Text: "Helsinki", Confidence: 0.9})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint depends on insertion order")
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := NewStore("spec-1")
	a.Add(Observation{ImageID: "img-a", Field: "locality", Text: "Helsinki", Confidence: 0.9})

	b := NewStore("spec-1")
	b.Add(Observation{ImageID: "img-a", Field: "locality", Text: "Helsingfors", Confidence: 0.9})

	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different texts share a fingerprint")
	}

	c := NewStore("spec-2")
	c.Add(Observation{ImageID: "img-a", Field: "locality", Text: "Helsinki", Confidence: 0.9})
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different specimens share a fingerprint")
	}
}
