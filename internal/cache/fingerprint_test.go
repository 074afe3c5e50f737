package cache

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint([]byte("label"), []byte("image-bytes"))
	b := Fingerprint([]byte("label"), []byte("image-bytes"))
	if a != b {
		t.Errorf("same parts produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprintBoundaries(t *testing.T) {
	// Length prefixing keeps part boundaries unambiguous.
	a := Fingerprint([]byte("ab"), []byte("c"))
	b := Fingerprint([]byte("a"), []byte("bc"))
	if a == b {
		t.Errorf("different part splits collided: %s", a)
	}
}

func TestKeyChangesWithEachComponent(t *testing.T) {
	base := Key(StageTranscription, "1", "prompt-fp", "input-fp")

	variants := map[string]string{
		"stage":   Key(StageConsolidation, "1", "prompt-fp", "input-fp"),
		"version": Key(StageTranscription, "2", "prompt-fp", "input-fp"),
		"prompt":  Key(StageTranscription, "1", "other-prompt", "input-fp"),
		"input":   Key(StageTranscription, "1", "prompt-fp", "other-input"),
	}
	for name, key := range variants {
		if key == base {
			t.Errorf("changing %s did not change the key", name)
		}
	}

	if again := Key(StageTranscription, "1", "prompt-fp", "input-fp"); again != base {
		t.Errorf("identical components produced different keys: %s vs %s", base, again)
	}
}
