package regrid

import (
	"fmt"
	"math"
	"sort"

	"go.ngs.io/wxgrid/internal/domain"
)

// SumTolerance bounds the deviation of a non-empty weight row from 1.
const SumTolerance = 1e-9

// Key identifies a weight set.
type Key struct {
	Source string
	Target string
	Method Method
}

func (k Key) String() string {
	return string(k.Method) + "|" + k.Source + "|" + k.Target
}

// NewKey derives the cache key for a grid pair and method.
func NewKey(src, tgt *domain.GridDefinition, m Method) Key {
	return Key{Source: src.Identity(), Target: tgt.Identity(), Method: m}
}

// Weights is a sparse source-to-target mapping in compressed-row form. Row t
// (a flattened target index lat*nLon+lon) owns Cols/Vals[Offsets[t]:Offsets[t+1]].
// A row sums to 1 or is empty, in which case the target is missing.
// Weights are immutable once built.
type Weights struct {
	Key         Key
	SourceShape [2]int
	TargetShape [2]int
	Offsets     []int
	Cols        []int
	Vals        []float64
}

// NTarget is the number of target cells.
func (w *Weights) NTarget() int { return w.TargetShape[0] * w.TargetShape[1] }

// NSource is the number of source cells.
func (w *Weights) NSource() int { return w.SourceShape[0] * w.SourceShape[1] }

// Row returns the contributors of target t.
func (w *Weights) Row(t int) ([]int, []float64) {
	lo, hi := w.Offsets[t], w.Offsets[t+1]
	return w.Cols[lo:hi], w.Vals[lo:hi]
}

// Covered counts targets with at least one contributor.
func (w *Weights) Covered() int {
	n := 0
	for t := 0; t < w.NTarget(); t++ {
		if w.Offsets[t+1] > w.Offsets[t] {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants and that every non-empty row
// sums to 1.
func (w *Weights) Validate() error {
	nt, ns := w.NTarget(), w.NSource()
	if len(w.Offsets) != nt+1 {
		return fmt.Errorf("weights %s: %d offsets for %d targets", w.Key.Method, len(w.Offsets), nt)
	}
	if len(w.Cols) != len(w.Vals) || w.Offsets[nt] != len(w.Cols) {
		return fmt.Errorf("weights %s: inconsistent entry arrays", w.Key.Method)
	}
	for t := 0; t < nt; t++ {
		if w.Offsets[t+1] < w.Offsets[t] {
			return fmt.Errorf("weights %s: offsets decrease at target %d", w.Key.Method, t)
		}
		cols, vals := w.Row(t)
		if len(cols) == 0 {
			continue
		}
		sum := 0.0
		for i, c := range cols {
			if c < 0 || c >= ns {
				return fmt.Errorf("weights %s: target %d references source %d of %d", w.Key.Method, t, c, ns)
			}
			sum += vals[i]
		}
		if math.Abs(sum-1) > SumTolerance {
			return fmt.Errorf("weights %s: target %d sums to %.12f", w.Key.Method, t, sum)
		}
	}
	return nil
}

// Apply maps source values onto the target shape. With renormalize unset any
// missing contributor makes the target missing; with it set, missing
// contributors are dropped and the rest reweighted.
func (w *Weights) Apply(values [][]float64, renormalize bool) ([][]float64, error) {
	nLatS, nLonS := w.SourceShape[0], w.SourceShape[1]
	if len(values) != nLatS {
		return nil, domain.NewError(domain.ErrGridMismatch, "values have %d rows, weights expect %d", len(values), nLatS)
	}
	for i, row := range values {
		if len(row) != nLonS {
			return nil, domain.NewError(domain.ErrGridMismatch, "row %d has %d values, weights expect %d", i, len(row), nLonS)
		}
	}

	nLatT, nLonT := w.TargetShape[0], w.TargetShape[1]
	out := make([][]float64, nLatT)
	for i := range out {
		out[i] = make([]float64, nLonT)
		for j := range out[i] {
			out[i][j] = applyRow(w, i*nLonT+j, values, nLonS, renormalize)
		}
	}
	return out, nil
}

func applyRow(w *Weights, t int, values [][]float64, nLonS int, renormalize bool) float64 {
	cols, vals := w.Row(t)
	if len(cols) == 0 {
		return domain.Missing
	}
	sum, wsum := 0.0, 0.0
	for k, c := range cols {
		v := values[c/nLonS][c%nLonS]
		if domain.IsMissing(v) {
			if !renormalize {
				return domain.Missing
			}
			continue
		}
		sum += vals[k] * v
		wsum += vals[k]
	}
	if wsum == 0 {
		return domain.Missing
	}
	if renormalize {
		return sum / wsum
	}
	return sum
}

type entry struct {
	col int
	w   float64
}

// builder accumulates rows in target order.
type builder struct {
	w *Weights
}

func newBuilder(key Key, src, tgt *domain.GridDefinition) *builder {
	sLat, sLon := src.Shape()
	tLat, tLon := tgt.Shape()
	w := &Weights{
		Key:         key,
		SourceShape: [2]int{sLat, sLon},
		TargetShape: [2]int{tLat, tLon},
		Offsets:     make([]int, 1, tLat*tLon+1),
	}
	return &builder{w: w}
}

// addRow merges duplicate columns, drops non-positive weights and scales the
// row to sum to 1. Columns are stored in ascending order.
func (b *builder) addRow(entries []entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].col < entries[j].col })
	merged := entries[:0]
	for _, e := range entries {
		if n := len(merged); n > 0 && merged[n-1].col == e.col {
			merged[n-1].w += e.w
			continue
		}
		merged = append(merged, e)
	}
	sum := 0.0
	kept := merged[:0]
	for _, e := range merged {
		if e.w > 0 {
			kept = append(kept, e)
			sum += e.w
		}
	}
	if sum > 0 {
		for _, e := range kept {
			b.w.Cols = append(b.w.Cols, e.col)
			b.w.Vals = append(b.w.Vals, e.w/sum)
		}
	}
	b.w.Offsets = append(b.w.Offsets, len(b.w.Cols))
}

func (b *builder) weights() *Weights { return b.w }
