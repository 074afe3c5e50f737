// Package eval scores consolidated labels against expert-verified
// ground truth. Values compare through the same lens a curator would
// use: casing, collector-list ordering and the latin "et" between
// names are typography, not reading errors.
package eval

import (
	"regexp"
	"strings"

	"github.com/entolabel/specimen-digitizer/constants"
)

// connectorRe folds the latin "et" between names into "&". The
// surrounding whitespace is the word boundary, so "letter" survives.
var connectorRe = regexp.MustCompile(`(?i)\s+et\s+`)

// NormalizeValue maps a field value to its comparison form.
func NormalizeValue(s string) string {
	return connectorRe.ReplaceAllString(strings.ToLower(s), " & ")
}

// listFields holds the fields whose values are semicolon-separated
// collections rather than scalars.
var listFields = map[constants.Field]bool{
	constants.FieldRecordedBy: true,
}

// IsListField reports whether the named field compares as an unordered
// set of semicolon-separated parts.
func IsListField(name string) bool {
	return listFields[constants.Field(name)]
}

// ValuesEqual reports whether a transcribed value agrees with the
// expected one. Empty strings count as missing: two missing values
// agree, a missing and a present one never do.
func ValuesEqual(got, want string, list bool) bool {
	if got == "" && want == "" {
		return true
	}
	if got == "" || want == "" {
		return false
	}
	if list {
		return setsEqual(listSet(got), listSet(want))
	}
	return NormalizeValue(got) == NormalizeValue(want)
}

// listSet splits a semicolon-separated value into normalized parts
// with empties dropped, so "A; B" and "b;a" land on the same set.
func listSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ";") {
		if p := NormalizeValue(strings.TrimSpace(part)); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}
