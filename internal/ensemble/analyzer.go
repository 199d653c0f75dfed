// Package ensemble computes spread statistics across co-located fields from
// several sources.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/wxgrid/internal/domain"
)

// DefaultTopN is the number of highest-spread cells reported.
const DefaultTopN = 3

// Residual is one source's deviation from the ensemble mean.
type Residual struct {
	Label  string
	Values [][]float64
}

// SourceStats summarises one source field over the grid.
type SourceStats struct {
	Label string  `json:"label"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Valid int     `json:"valid_cells"`
}

// Pairwise is the cell-wise difference A - B between two sources.
type Pairwise struct {
	Name       string
	A, B       string
	Values     [][]float64
	MeanDiff   float64
	MaxAbsDiff float64
}

// Location is a grid cell with its spread.
type Location struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Spread float64 `json:"spread"`
}

// Aggregates are grid-wide summaries. Missing cells are excluded; a value
// is missing when no cell contributes.
type Aggregates struct {
	GlobalMeanSpread float64
	MaxSpread        float64
	MinSpread        float64
	MinValue         float64
	MaxValue         float64
	ValidCells       int
	MissingCells     int
}

// Result is the outcome of one analysis.
type Result struct {
	Grid       *domain.GridDefinition
	Variable   string
	Unit       string
	Labels     []string
	Mean       [][]float64
	Spread     [][]float64
	Count      [][]int
	Residuals  []Residual
	Aggregates Aggregates
	Sources    []SourceStats
	Pairwise   []Pairwise
	TopSpread  []Location
}

// Analyzer computes ensemble statistics. The zero value is usable.
type Analyzer struct {
	// TopN overrides DefaultTopN when positive.
	TopN int
}

// NewAnalyzer creates an analyzer with default settings.
func NewAnalyzer() *Analyzer {
	return &Analyzer{TopN: DefaultTopN}
}

// Analyze computes per-cell mean and sample standard deviation across
// fields, plus residuals and summaries. Labels are optional; when given
// they must match the field count.
func (a *Analyzer) Analyze(fields []*domain.FieldDataset, labels []string) (*Result, error) {
	labels, err := checkInputs(fields, labels)
	if err != nil {
		return nil, err
	}

	ref := fields[0]
	nLat, nLon := ref.Grid.Shape()
	res := &Result{
		Grid:     ref.Grid,
		Variable: ref.Variable,
		Unit:     ref.Unit,
		Labels:   labels,
		Mean:     newMatrix(nLat, nLon),
		Spread:   newMatrix(nLat, nLon),
		Count:    make([][]int, nLat),
	}

	buf := make([]float64, 0, len(fields))
	for i := 0; i < nLat; i++ {
		res.Count[i] = make([]int, nLon)
		for j := 0; j < nLon; j++ {
			buf = buf[:0]
			for _, f := range fields {
				if v := f.Values[i][j]; !domain.IsMissing(v) {
					buf = append(buf, v)
				}
			}
			// Sorted contributions keep results independent of input order.
			sort.Float64s(buf)
			res.Count[i][j] = len(buf)
			res.Mean[i][j], res.Spread[i][j] = cellStats(buf)
		}
	}

	res.Residuals = make([]Residual, len(fields))
	for k, f := range fields {
		res.Residuals[k] = Residual{Label: labels[k], Values: residuals(f.Values, res.Mean)}
	}

	res.Aggregates = aggregate(res.Mean, res.Spread)
	res.Sources = make([]SourceStats, len(fields))
	for k, f := range fields {
		res.Sources[k] = sourceStats(labels[k], f.Values)
	}
	res.Pairwise = pairwise(fields, labels)
	topN := a.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	res.TopSpread = topSpread(res.Grid, res.Spread, topN)

	log.Debug().
		Str("variable", res.Variable).
		Int("sources", len(fields)).
		Float64("global_mean_spread", res.Aggregates.GlobalMeanSpread).
		Msg("ensemble analysed")
	return res, nil
}

// checkInputs enforces, in order: at least two fields, matching and unique
// labels, identical grids, one variable and one unit.
func checkInputs(fields []*domain.FieldDataset, labels []string) ([]string, error) {
	if len(fields) < 2 {
		return nil, domain.NewError(domain.ErrInsufficientData, "need at least 2 fields, got %d", len(fields))
	}
	if len(labels) == 0 {
		labels = DefaultLabels(len(fields))
	} else if len(labels) != len(fields) {
		return nil, domain.NewError(domain.ErrLabelCountMismatch, "%d labels for %d fields", len(labels), len(fields))
	}
	seen := make(map[string]int, len(labels))
	for k, l := range labels {
		if prev, ok := seen[l]; ok {
			return nil, domain.NewError(domain.ErrLabelCountMismatch, "label %q given for fields %d and %d", l, prev+1, k+1)
		}
		seen[l] = k
	}

	ref := fields[0]
	for k, f := range fields {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("field %q: %w", labels[k], err)
		}
		if k > 0 && !f.Grid.Equal(ref.Grid) {
			return nil, domain.NewError(domain.ErrGridMismatch, "field %q grid %s differs from %q grid %s",
				labels[k], f.Grid.Describe(), labels[0], ref.Grid.Describe())
		}
	}
	for k, f := range fields[1:] {
		if f.Variable != ref.Variable {
			return nil, domain.NewError(domain.ErrVariableMismatch, "field %q is %q, field %q is %q",
				labels[k+1], f.Variable, labels[0], ref.Variable)
		}
	}
	for k, f := range fields[1:] {
		if !domain.SameUnit(f.Unit, ref.Unit) {
			return nil, domain.NewError(domain.ErrUnitMismatch, "field %q is in %q, field %q is in %q",
				labels[k+1], f.Unit, labels[0], ref.Unit)
		}
	}
	return labels, nil
}

// DefaultLabels returns Model_1 .. Model_n.
func DefaultLabels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Model_%d", i+1)
	}
	return out
}

// cellStats returns the mean and sample standard deviation of sorted
// contributions. The spread needs at least two contributors.
func cellStats(vals []float64) (mean, spread float64) {
	switch len(vals) {
	case 0:
		return domain.Missing, domain.Missing
	case 1:
		return vals[0], domain.Missing
	}
	return stat.Mean(vals, nil), stat.StdDev(vals, nil)
}

func residuals(values, mean [][]float64) [][]float64 {
	out := newMatrix(len(values), len(values[0]))
	for i, row := range values {
		for j, v := range row {
			if domain.IsMissing(v) || domain.IsMissing(mean[i][j]) {
				out[i][j] = domain.Missing
				continue
			}
			out[i][j] = v - mean[i][j]
		}
	}
	return out
}

func aggregate(mean, spread [][]float64) Aggregates {
	spreads := validValues(spread)
	means := validValues(mean)
	agg := Aggregates{
		GlobalMeanSpread: domain.Missing,
		MaxSpread:        domain.Missing,
		MinSpread:        domain.Missing,
		MinValue:         domain.Missing,
		MaxValue:         domain.Missing,
		ValidCells:       len(spreads),
		MissingCells:     len(spread)*len(spread[0]) - len(spreads),
	}
	if len(spreads) > 0 {
		agg.GlobalMeanSpread = floats.Sum(spreads) / float64(len(spreads))
		agg.MaxSpread = floats.Max(spreads)
		agg.MinSpread = floats.Min(spreads)
	}
	if len(means) > 0 {
		agg.MinValue = floats.Min(means)
		agg.MaxValue = floats.Max(means)
	}
	return agg
}

func sourceStats(label string, values [][]float64) SourceStats {
	vals := validValues(values)
	s := SourceStats{
		Label: label,
		Mean:  domain.Missing,
		Std:   domain.Missing,
		Min:   domain.Missing,
		Max:   domain.Missing,
		Valid: len(vals),
	}
	if len(vals) == 0 {
		return s
	}
	s.Mean = stat.Mean(vals, nil)
	if len(vals) > 1 {
		s.Std = stat.StdDev(vals, nil)
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	return s
}

func pairwise(fields []*domain.FieldDataset, labels []string) []Pairwise {
	var out []Pairwise
	for a := 0; a < len(fields); a++ {
		for b := a + 1; b < len(fields); b++ {
			diff := newMatrix(len(fields[a].Values), len(fields[a].Values[0]))
			for i, row := range fields[a].Values {
				for j, v := range row {
					w := fields[b].Values[i][j]
					if domain.IsMissing(v) || domain.IsMissing(w) {
						diff[i][j] = domain.Missing
						continue
					}
					diff[i][j] = v - w
				}
			}
			p := Pairwise{
				Name:       labels[a] + "_minus_" + labels[b],
				A:          labels[a],
				B:          labels[b],
				Values:     diff,
				MeanDiff:   domain.Missing,
				MaxAbsDiff: domain.Missing,
			}
			if vals := validValues(diff); len(vals) > 0 {
				p.MeanDiff = floats.Sum(vals) / float64(len(vals))
				abs := make([]float64, len(vals))
				for k, v := range vals {
					abs[k] = math.Abs(v)
				}
				p.MaxAbsDiff = floats.Max(abs)
			}
			out = append(out, p)
		}
	}
	return out
}

// topSpread returns the n cells with the largest spread; ties keep grid
// order.
func topSpread(g *domain.GridDefinition, spread [][]float64, n int) []Location {
	type cell struct {
		i, j int
		s    float64
	}
	var cells []cell
	for i, row := range spread {
		for j, s := range row {
			if !domain.IsMissing(s) {
				cells = append(cells, cell{i, j, s})
			}
		}
	}
	sort.SliceStable(cells, func(a, b int) bool { return cells[a].s > cells[b].s })
	if len(cells) > n {
		cells = cells[:n]
	}
	out := make([]Location, len(cells))
	for k, c := range cells {
		out[k] = Location{Lat: g.Lat(c.i), Lon: g.Lon(c.j), Spread: c.s}
	}
	return out
}

func validValues(m [][]float64) []float64 {
	var out []float64
	for _, row := range m {
		for _, v := range row {
			if !domain.IsMissing(v) {
				out = append(out, v)
			}
		}
	}
	return out
}

func newMatrix(nLat, nLon int) [][]float64 {
	out := make([][]float64, nLat)
	for i := range out {
		out[i] = make([]float64, nLon)
	}
	return out
}
