package ingest

import (
	"path/filepath"
	"strings"

	"github.com/entolabel/specimen-digitizer/constants"
)

// HintsFilename is the optional per-specimen context file inside a
// specimen directory.
const HintsFilename = "hints.json"

// AllowedExt checks if a file extension is in the accepted image set.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
