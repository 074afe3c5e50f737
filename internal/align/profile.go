package align

// gapRune marks the absence of a character in a column's candidate set.
const gapRune rune = 0

// candidate is one vote inside a column: a rune (or gapRune) with the summed
// confidence of the witnesses that produced it.
type candidate struct {
	ch       rune
	weight   float64
	bestConf float64
	order    int
	images   []string
}

// column is one aligned position across all folded witnesses. Candidate
// weights always sum to the profile's folded weight.
type column struct {
	cands []candidate
}

func (c *column) total() float64 {
	sum := 0.0
	for _, cand := range c.cands {
		sum += cand.weight
	}
	return sum
}

func (c *column) add(ch rune, weight, conf float64, order *int, images []string) {
	for i := range c.cands {
		if c.cands[i].ch == ch {
			c.cands[i].weight += weight
			if conf > c.cands[i].bestConf {
				c.cands[i].bestConf = conf
			}
			c.cands[i].images = append(c.cands[i].images, images...)
			return
		}
	}
	c.cands = append(c.cands, candidate{
		ch:       ch,
		weight:   weight,
		bestConf: conf,
		order:    *order,
		images:   append([]string(nil), images...),
	})
	*order++
}

// matchCost scores aligning a witness rune against this column: the
// weight-averaged substitution cost over the column's candidates, with gap
// candidates priced as gaps.
func (c *column) matchCost(r rune) float64 {
	total := c.total()
	if total == 0 {
		return costMismatch
	}
	sum := 0.0
	for _, cand := range c.cands {
		if cand.ch == gapRune {
			sum += cand.weight * costGap
		} else {
			sum += cand.weight * substitutionCost(cand.ch, r)
		}
	}
	return sum / total
}

// skipCost scores leaving this column without a witness rune. Columns that
// are already mostly gaps are cheap to skip.
func (c *column) skipCost() float64 {
	total := c.total()
	if total == 0 {
		return costGap
	}
	sum := 0.0
	for _, cand := range c.cands {
		if cand.ch != gapRune {
			sum += cand.weight * costGap
		}
	}
	return sum / total
}

// profile is the running multi-sequence alignment: an ordered list of
// columns plus the witnesses folded so far.
type profile struct {
	cols    []column
	weight  float64
	maxConf float64
	folded  []string
}

func newProfile(w Witness, runes []rune, order *int) *profile {
	p := &profile{}
	p.cols = make([]column, len(runes))
	for i, r := range runes {
		p.cols[i].add(r, w.Confidence, w.Confidence, order, []string{w.ImageID})
	}
	p.weight = w.Confidence
	p.maxConf = w.Confidence
	p.folded = []string{w.ImageID}
	return p
}

// Traceback moves for the alignment matrix.
const (
	moveDiag byte = iota
	moveUp        // advance profile, witness contributes a gap
	moveLeft      // advance witness, a new column is inserted
)

// fold aligns one more witness against the profile with Needleman-Wunsch and
// merges it column by column. Ties in the matrix prefer diagonal, then up,
// then left, so the merge is deterministic.
func (p *profile) fold(w Witness, runes []rune, order *int) {
	m, n := len(p.cols), len(runes)

	dp := make([][]float64, m+1)
	move := make([][]byte, m+1)
	for i := 0; i <= m; i++ {
		dp[i] = make([]float64, n+1)
		move[i] = make([]byte, n+1)
	}
	for i := 1; i <= m; i++ {
		dp[i][0] = dp[i-1][0] + p.cols[i-1].skipCost()
		move[i][0] = moveUp
	}
	for j := 1; j <= n; j++ {
		dp[0][j] = dp[0][j-1] + costGap
		move[0][j] = moveLeft
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			best := dp[i-1][j-1] + p.cols[i-1].matchCost(runes[j-1])
			mv := moveDiag
			if up := dp[i-1][j] + p.cols[i-1].skipCost(); up < best {
				best, mv = up, moveUp
			}
			if left := dp[i][j-1] + costGap; left < best {
				best, mv = left, moveLeft
			}
			dp[i][j], move[i][j] = best, mv
		}
	}

	// Recover the move sequence front to back.
	moves := make([]byte, 0, m+n)
	for i, j := m, n; i > 0 || j > 0; {
		mv := move[i][j]
		moves = append(moves, mv)
		switch mv {
		case moveDiag:
			i--
			j--
		case moveUp:
			i--
		case moveLeft:
			j--
		}
	}
	for l, r := 0, len(moves)-1; l < r; l, r = l+1, r-1 {
		moves[l], moves[r] = moves[r], moves[l]
	}

	merged := make([]column, 0, len(moves))
	ci, ri := 0, 0
	for _, mv := range moves {
		switch mv {
		case moveDiag:
			col := p.cols[ci]
			col.add(runes[ri], w.Confidence, w.Confidence, order, []string{w.ImageID})
			merged = append(merged, col)
			ci++
			ri++
		case moveUp:
			col := p.cols[ci]
			col.add(gapRune, w.Confidence, w.Confidence, order, []string{w.ImageID})
			merged = append(merged, col)
			ci++
		case moveLeft:
			// Witnesses folded before this column existed vote gap here.
			var col column
			col.add(runes[ri], w.Confidence, w.Confidence, order, []string{w.ImageID})
			if p.weight > 0 {
				col.add(gapRune, p.weight, p.maxConf, order, p.folded)
			}
			merged = append(merged, col)
			ri++
		}
	}

	p.cols = merged
	p.weight += w.Confidence
	if w.Confidence > p.maxConf {
		p.maxConf = w.Confidence
	}
	p.folded = append(p.folded, w.ImageID)
}
