package align

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// costModelVersion changes whenever the cost table below changes, so that
// cached results derived under an older table are not reused.
const costModelVersion = "1"

// Alignment costs. Confusable substitutions are cheaper than a gap so that
// glyphs OCR models commonly swap land in the same column instead of
// splitting it; everything else is dearer than a gap.
const (
	costCase       = 0.1
	costConfusable = 0.35
	costMismatch   = 1.0
	costGap        = 0.9
)

// confusablePairs lists glyphs that look alike on printed and handwritten
// labels. Lowercase only; case differences are handled separately.
var confusablePairs = [][2]rune{
	{'0', 'o'},
	{'1', 'l'}, {'1', 'i'}, {'1', '|'}, {'l', 'i'}, {'l', '|'}, {'i', '|'},
	{'5', 's'},
	{'8', 'b'},
	{'2', 'z'},
	{'6', 'g'}, {'9', 'g'}, {'9', 'q'}, {'g', 'q'},
	{'c', '('},
	{'u', 'v'},
	{'k', 'x'},
	{'.', ','},
	{':', ';'},
	{'-', '—'}, {'-', '–'},
}

var confusable = func() map[rune]map[rune]bool {
	m := make(map[rune]map[rune]bool)
	add := func(a, b rune) {
		if m[a] == nil {
			m[a] = make(map[rune]bool)
		}
		m[a][b] = true
	}
	for _, p := range confusablePairs {
		add(p[0], p[1])
		add(p[1], p[0])
	}
	return m
}()

// substitutionCost scores aligning rune a against rune b. Zero for identity,
// cheap for case-only and confusable differences, full price otherwise.
func substitutionCost(a, b rune) float64 {
	if a == b {
		return 0
	}
	la, lb := unicode.ToLower(a), unicode.ToLower(b)
	if la == lb {
		return costCase
	}
	if confusable[la][lb] {
		return costConfusable
	}
	if baseRune(la) == baseRune(lb) {
		return costConfusable
	}
	return costMismatch
}

// baseRune strips combining marks, so é and e compare equal at the base
// letter. Returns the rune unchanged when it does not decompose.
func baseRune(r rune) rune {
	decomposed := norm.NFD.String(string(r))
	for _, base := range decomposed {
		return base
	}
	return r
}
