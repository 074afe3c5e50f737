package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Stage names for cached external-call results.
const (
	StageTranscription = "transcription"
	StageConsolidation = "consolidation"
)

// Fingerprint computes a hex sha256 over the given parts. Every part is
// length-prefixed, so ("ab","c") and ("a","bc") hash differently.
func Fingerprint(parts ...[]byte) string {
	hasher := sha256.New()
	for _, part := range parts {
		writeField(hasher, part)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// FingerprintStrings is Fingerprint over string parts.
func FingerprintStrings(parts ...string) string {
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	return Fingerprint(raw...)
}

// Key derives the cache key for one external call. Any change to the stage,
// the engine version, the prompt fingerprint or the input fingerprint yields
// a different key.
func Key(stage, version, promptFingerprint, inputFingerprint string) string {
	return FingerprintStrings(stage, version, promptFingerprint, inputFingerprint)
}

func writeField(w io.Writer, data []byte) {
	length := uint64(len(data))
	lengthBytes := []byte{
		byte(length >> 56),
		byte(length >> 48),
		byte(length >> 40),
		byte(length >> 32),
		byte(length >> 24),
		byte(length >> 16),
		byte(length >> 8),
		byte(length),
	}
	w.Write(lengthBytes)
	w.Write(data)
}
