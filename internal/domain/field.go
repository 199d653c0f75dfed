package domain

import (
	"math"
	"time"
)

// Missing marks a cell with no value.
var Missing = math.NaN()

// IsMissing reports whether v is the missing marker.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Provenance records where a field came from.
type Provenance struct {
	Source       string    `json:"source"`
	RunTime      time.Time `json:"run_time"`
	ForecastHour int       `json:"forecast_hour"`
	Region       string    `json:"region,omitempty"`
}

// FieldDataset is a single 2-D variable on a grid. Values[i][j] belongs to
// (lat i, lon j). Treat instances as immutable: transformations return new
// datasets.
type FieldDataset struct {
	Grid       *GridDefinition
	Values     [][]float64
	Variable   string
	Unit       string
	Provenance Provenance
	Attrs      map[string]string
}

// NewFieldDataset copies values and validates their shape against grid.
func NewFieldDataset(grid *GridDefinition, values [][]float64, variable, unit string, prov Provenance) (*FieldDataset, error) {
	f := &FieldDataset{
		Grid:       grid,
		Values:     copyValues(values),
		Variable:   variable,
		Unit:       unit,
		Provenance: prov,
		Attrs:      map[string]string{},
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that Values matches the grid shape.
func (f *FieldDataset) Validate() error {
	if f == nil {
		return NewError(ErrGridMismatch, "field is nil")
	}
	if f.Grid == nil {
		return NewError(ErrGridMismatch, "field %q has no grid", f.Variable)
	}
	nLat, nLon := f.Grid.Shape()
	if len(f.Values) != nLat {
		return NewError(ErrGridMismatch, "field %q (%s) has %d rows, grid has %d latitudes",
			f.Variable, f.Provenance.Source, len(f.Values), nLat)
	}
	for i, row := range f.Values {
		if len(row) != nLon {
			return NewError(ErrGridMismatch, "field %q (%s) row %d has %d values, grid has %d longitudes",
				f.Variable, f.Provenance.Source, i, len(row), nLon)
		}
	}
	return nil
}

// At returns the value at (i, j).
func (f *FieldDataset) At(i, j int) float64 { return f.Values[i][j] }

// WithValues returns a copy of f carrying values on grid, keeping variable,
// unit, provenance and attributes.
func (f *FieldDataset) WithValues(grid *GridDefinition, values [][]float64) (*FieldDataset, error) {
	out, err := NewFieldDataset(grid, values, f.Variable, f.Unit, f.Provenance)
	if err != nil {
		return nil, err
	}
	for k, v := range f.Attrs {
		out.Attrs[k] = v
	}
	return out, nil
}

// WithAttr returns a copy of f with one extra attribute.
func (f *FieldDataset) WithAttr(key, value string) *FieldDataset {
	out := *f
	out.Attrs = make(map[string]string, len(f.Attrs)+1)
	for k, v := range f.Attrs {
		out.Attrs[k] = v
	}
	out.Attrs[key] = value
	return &out
}

// Convert returns a copy of f expressed in unit. Missing cells stay missing.
func (f *FieldDataset) Convert(unit string) (*FieldDataset, error) {
	conv, err := ConvertUnit(f.Unit, unit)
	if err != nil {
		return nil, err
	}
	values := make([][]float64, len(f.Values))
	for i, row := range f.Values {
		values[i] = make([]float64, len(row))
		for j, v := range row {
			values[i][j] = conv(v)
		}
	}
	out, err := f.WithValues(f.Grid, values)
	if err != nil {
		return nil, err
	}
	out.Unit = unit
	return out, nil
}

// Count returns the number of non-missing cells.
func (f *FieldDataset) Count() int {
	n := 0
	for _, row := range f.Values {
		for _, v := range row {
			if !IsMissing(v) {
				n++
			}
		}
	}
	return n
}

func copyValues(values [][]float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, row := range values {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
