package constants

import "strings"

// AllowedExtensions holds the image extensions accepted during specimen ingestion.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// mimeByExt maps a normalized extension to the MIME type sent to the vision model.
var mimeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MIMEForExt returns the MIME type for an image extension, or "" if the
// extension is not an accepted image type.
func MIMEForExt(ext string) string {
	return mimeByExt[NormalizeExt(ext)]
}
