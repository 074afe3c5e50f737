package finbif

import "strings"

const defaultImageExt = "jpg"

// SanitizeID makes a FinBIF URI identifier usable as a directory or file
// name. Warehouse identifiers are full URIs such as http://tun.fi/JX.123.
func SanitizeID(id string) string {
	id = strings.ReplaceAll(id, ":", "_")
	return strings.ReplaceAll(id, "/", "_")
}

// Filename derives a stable file name for a media entry from its
// identifier, keeping the extension of the download URL when it looks
// like one.
func (m Media) Filename() string {
	ext := defaultImageExt
	if last := m.FullURL[strings.LastIndex(m.FullURL, "/")+1:]; strings.Contains(last, ".") {
		cand := strings.ToLower(last[strings.LastIndex(last, ".")+1:])
		if validExt(cand) {
			ext = cand
		}
	}
	return SanitizeID(m.ID) + "." + ext
}

// validExt accepts short alphanumeric extensions; anything else is a
// query string or path fragment masquerading as one.
func validExt(s string) bool {
	if s == "" || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
