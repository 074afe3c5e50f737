// Package align merges independent transcriptions of the same label field
// into a single reading, keeping track of which images back every character
// and which positions stay contested.
package align

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/entolabel/specimen-digitizer/constants"
	"github.com/entolabel/specimen-digitizer/internal/cache"
)

// Witness is one transcription of a field competing for consensus.
type Witness struct {
	ImageID    string
	Text       string
	Confidence float64
}

// Alternative is a losing candidate at one column.
type Alternative struct {
	Text   string   `json:"text"` // "" when the candidate is absence
	Weight float64  `json:"weight"`
	Images []string `json:"images"`
}

// Column is the resolution of one aligned position.
type Column struct {
	Text         string        `json:"text"` // winning character, "" when the winner is absence
	Conflicting  bool          `json:"conflicting"`
	Images       []string      `json:"images"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// FieldConsensus is the merged reading of one field.
type FieldConsensus struct {
	Field         string
	Status        constants.FieldStatus
	Value         string
	Confidence    float64
	Witnesses     []string
	Columns       []Column
	ConflictRatio float64
}

// Engine builds field consensus from per-image witnesses.
type Engine struct {
	conflictThreshold float64
	logger            *slog.Logger
}

// NewEngine returns an engine that escalates a field to conflict when more
// than conflictThreshold of its aligned columns stay contested.
func NewEngine(conflictThreshold float64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{conflictThreshold: conflictThreshold, logger: logger}
}

// Fingerprint identifies the engine's merge behavior for cache key
// derivation: the cost table version and the conflict threshold.
func (e *Engine) Fingerprint() string {
	return cache.FingerprintStrings(
		"align",
		costModelVersion,
		strconv.FormatFloat(e.conflictThreshold, 'g', -1, 64),
	)
}

// MergeField aligns the witnesses of one field and votes per column.
// No witness yields incomplete. A single witness is passed through verbatim
// with its own confidence. Two or more witnesses are normalized, aligned in
// descending confidence order and resolved by weighted strict majority;
// contested columns beyond the threshold, or a heavily contested token,
// escalate the whole field to conflict.
func (e *Engine) MergeField(field string, witnesses []Witness) FieldConsensus {
	if len(witnesses) == 0 {
		return FieldConsensus{Field: field, Status: constants.FieldIncomplete}
	}
	if len(witnesses) == 1 {
		w := witnesses[0]
		return FieldConsensus{
			Field:      field,
			Status:     constants.FieldResolved,
			Value:      w.Text,
			Confidence: w.Confidence,
			Witnesses:  []string{w.ImageID},
		}
	}

	ws := append([]Witness(nil), witnesses...)
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Confidence != ws[j].Confidence {
			return ws[i].Confidence > ws[j].Confidence
		}
		return ws[i].ImageID < ws[j].ImageID
	})

	order := 0
	var p *profile
	for _, w := range ws {
		runes := []rune(Normalize(w.Text))
		if len(runes) == 0 {
			continue
		}
		if p == nil {
			p = newProfile(w, runes, &order)
		} else {
			p.fold(w, runes, &order)
		}
	}
	if p == nil {
		return FieldConsensus{Field: field, Status: constants.FieldIncomplete}
	}
	if len(p.folded) == 1 {
		for _, w := range ws {
			if w.ImageID != p.folded[0] {
				continue
			}
			return FieldConsensus{
				Field:      field,
				Status:     constants.FieldResolved,
				Value:      w.Text,
				Confidence: w.Confidence,
				Witnesses:  []string{w.ImageID},
			}
		}
	}

	var (
		valueRunes    []rune
		columns       []Column
		winners       []candidate
		flags         []bool
		winnerSum     float64
		totalSum      float64
		conflictCount int
	)
	for _, col := range p.cols {
		win := pickWinner(col)
		total := col.total()
		winnerSum += win.weight
		totalSum += total
		conflicting := win.weight <= total-win.weight
		winners = append(winners, win)
		flags = append(flags, conflicting)
		if conflicting {
			conflictCount++
		}
		if win.ch != gapRune {
			valueRunes = append(valueRunes, win.ch)
		}
		if win.ch == gapRune && !conflicting {
			// Unanimous absence carries no provenance worth keeping.
			continue
		}
		columns = append(columns, exportColumn(col, win, conflicting))
	}

	confidence := 0.0
	if totalSum > 0 {
		confidence = winnerSum / totalSum
	}
	ratio := float64(conflictCount) / float64(len(p.cols))

	status := constants.FieldResolved
	if ratio > e.conflictThreshold || hasContestedToken(winners, flags) {
		status = constants.FieldConflict
	}

	result := FieldConsensus{
		Field:         field,
		Status:        status,
		Value:         string(valueRunes),
		Confidence:    confidence,
		Witnesses:     append([]string(nil), p.folded...),
		Columns:       columns,
		ConflictRatio: ratio,
	}
	e.logger.Debug("align.field",
		"field", field,
		"status", string(status),
		"witnesses", len(result.Witnesses),
		"conflict_ratio", ratio,
	)
	return result
}

func pickWinner(col column) candidate {
	best := col.cands[0]
	for _, c := range col.cands[1:] {
		if c.weight > best.weight {
			best = c
			continue
		}
		if c.weight == best.weight {
			if c.bestConf > best.bestConf {
				best = c
				continue
			}
			if c.bestConf == best.bestConf && c.order < best.order {
				best = c
			}
		}
	}
	return best
}

func exportColumn(col column, win candidate, conflicting bool) Column {
	out := Column{
		Conflicting: conflicting,
		Images:      append([]string(nil), win.images...),
	}
	if win.ch != gapRune {
		out.Text = string(win.ch)
	}
	for _, c := range col.cands {
		if c.ch == win.ch {
			continue
		}
		alt := Alternative{Weight: c.weight, Images: append([]string(nil), c.images...)}
		if c.ch != gapRune {
			alt.Text = string(c.ch)
		}
		out.Alternatives = append(out.Alternatives, alt)
	}
	sort.SliceStable(out.Alternatives, func(i, j int) bool {
		return out.Alternatives[i].Weight > out.Alternatives[j].Weight
	})
	return out
}

// hasContestedToken reports whether any whitespace-delimited token of the
// consensus is contested badly enough to distrust the whole field: at least
// two contested columns, or half the token or more.
func hasContestedToken(winners []candidate, flags []bool) bool {
	length, conflicts := 0, 0
	flush := func() bool {
		bad := length > 0 && conflicts > 0 && (conflicts >= 2 || conflicts*2 >= length)
		length, conflicts = 0, 0
		return bad
	}
	for i, win := range winners {
		boundary := win.ch == ' ' && !flags[i]
		if boundary {
			if flush() {
				return true
			}
			continue
		}
		length++
		if flags[i] {
			conflicts++
		}
	}
	return flush()
}
