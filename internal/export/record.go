// Package export turns ensemble results into serializable records and
// render requests.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/ensemble"
)

// Number is a float64 that encodes missing values as JSON null.
type Number float64

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// GridInfo describes the analysis grid.
type GridInfo struct {
	LatCount   int           `json:"lat_count"`
	LonCount   int           `json:"lon_count"`
	Bounds     domain.Bounds `json:"bounds"`
	Convention string        `json:"convention"`
}

// SpreadStatistics groups the spread aggregates.
type SpreadStatistics struct {
	MeanSpread Number `json:"mean_spread"`
	MaxSpread  Number `json:"max_spread"`
	MinSpread  Number `json:"min_spread"`
}

// SourceSummary is one source's statistics.
type SourceSummary struct {
	Label      string `json:"label"`
	Mean       Number `json:"mean"`
	Std        Number `json:"std"`
	Min        Number `json:"min"`
	Max        Number `json:"max"`
	ValidCells int    `json:"valid_cells"`
}

// PairwiseSummary is the summary of one A - B difference.
type PairwiseSummary struct {
	A          string `json:"a"`
	B          string `json:"b"`
	MeanDiff   Number `json:"mean_diff"`
	MaxAbsDiff Number `json:"max_abs_diff"`
}

// Location is a high-spread cell.
type Location struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Spread Number  `json:"spread"`
}

// Record is the exported summary of an ensemble analysis.
type Record struct {
	ID               string                     `json:"id"`
	CreatedAt        time.Time                  `json:"created_at"`
	Variable         string                     `json:"variable"`
	Unit             string                     `json:"unit"`
	NModels          int                        `json:"n_models"`
	Labels           []string                   `json:"labels"`
	Grid             GridInfo                   `json:"grid"`
	GlobalMeanSpread Number                     `json:"global_mean_spread"`
	MinValue         Number                     `json:"min_value"`
	MaxValue         Number                     `json:"max_value"`
	ValidCells       int                        `json:"valid_cells"`
	MissingCells     int                        `json:"missing_cells"`
	SpreadStatistics SpreadStatistics           `json:"spread_statistics"`
	TopSpread        []Location                 `json:"top_spread_locations"`
	ModelStatistics  []SourceSummary            `json:"model_statistics"`
	Pairwise         map[string]PairwiseSummary `json:"pairwise_differences,omitempty"`
	Mean             [][]Number                 `json:"mean,omitempty"`
	Spread           [][]Number                 `json:"spread,omitempty"`
}

// Options controls export.
type Options struct {
	// IncludeArrays adds the full mean and spread grids to the record.
	IncludeArrays bool
}

// Exporter builds records and render requests. It keeps no state between
// calls.
type Exporter struct {
	renderer Renderer
	now      func() time.Time
}

// NewExporter creates an exporter. renderer may be nil when no visual output
// is needed.
func NewExporter(renderer Renderer) *Exporter {
	return &Exporter{renderer: renderer, now: time.Now}
}

// Export builds the record for res.
func (e *Exporter) Export(res *ensemble.Result, opts Options) *Record {
	nLat, nLon := res.Grid.Shape()
	agg := res.Aggregates
	rec := &Record{
		ID:        uuid.NewString(),
		CreatedAt: e.now().UTC(),
		Variable:  res.Variable,
		Unit:      res.Unit,
		NModels:   len(res.Labels),
		Labels:    append([]string(nil), res.Labels...),
		Grid: GridInfo{
			LatCount:   nLat,
			LonCount:   nLon,
			Bounds:     res.Grid.Bounds(),
			Convention: res.Grid.Convention().String(),
		},
		GlobalMeanSpread: Number(agg.GlobalMeanSpread),
		MinValue:         Number(agg.MinValue),
		MaxValue:         Number(agg.MaxValue),
		ValidCells:       agg.ValidCells,
		MissingCells:     agg.MissingCells,
		SpreadStatistics: SpreadStatistics{
			MeanSpread: Number(agg.GlobalMeanSpread),
			MaxSpread:  Number(agg.MaxSpread),
			MinSpread:  Number(agg.MinSpread),
		},
	}
	for _, l := range res.TopSpread {
		rec.TopSpread = append(rec.TopSpread, Location{Lat: l.Lat, Lon: l.Lon, Spread: Number(l.Spread)})
	}
	for _, s := range res.Sources {
		rec.ModelStatistics = append(rec.ModelStatistics, SourceSummary{
			Label: s.Label, Mean: Number(s.Mean), Std: Number(s.Std),
			Min: Number(s.Min), Max: Number(s.Max), ValidCells: s.Valid,
		})
	}
	if len(res.Pairwise) > 0 {
		rec.Pairwise = make(map[string]PairwiseSummary, len(res.Pairwise))
		for _, p := range res.Pairwise {
			rec.Pairwise[p.Name] = PairwiseSummary{A: p.A, B: p.B, MeanDiff: Number(p.MeanDiff), MaxAbsDiff: Number(p.MaxAbsDiff)}
		}
	}
	if opts.IncludeArrays {
		rec.Mean = numbers(res.Mean)
		rec.Spread = numbers(res.Spread)
	}
	return rec
}

func numbers(m [][]float64) [][]Number {
	out := make([][]Number, len(m))
	for i, row := range m {
		out[i] = make([]Number, len(row))
		for j, v := range row {
			out[i][j] = Number(v)
		}
	}
	return out
}

// Encode writes rec as indented JSON.
func Encode(w io.Writer, rec *Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// WriteJSON writes rec to path, creating parent directories.
func WriteJSON(path string, rec *Record) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(f, rec); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
