package field

import (
	"fmt"
	"math"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/wxgrid/internal/domain"
)

// Coordinate variable names tried in order.
var (
	LatNames = []string{"latitude", "lat", "y", "rlat"}
	LonNames = []string{"longitude", "lon", "x", "rlon"}
)

// Selection picks one 2-D plane of a variable.
type Selection struct {
	Variable string
	// LatName and LonName are tried before the standard candidates.
	LatName, LonName string
	// TimeIndex indexes the leading (time) dimension of 3-D and 4-D
	// variables; further leading dimensions are read at index 0.
	TimeIndex int
	// Bounds, when set, restricts the plane to the box plus one cell of
	// margin on each side.
	Bounds *domain.Bounds
	// Verbatim keeps the stored coordinate order and longitude convention.
	Verbatim bool
}

// Plane is a decoded lat/lon array. Unless the selection is verbatim,
// latitudes ascend and longitudes are in one contiguous convention.
type Plane struct {
	Lats     []float64
	Lons     []float64
	Values   [][]float64
	Unit     string
	LongName string
}

// Decode reads a plane from an open dataset, local or remote (OPeNDAP).
// Fill and missing values become domain.Missing; scale_factor and
// add_offset are applied.
func Decode(nc netcdf.Dataset, sel Selection) (*Plane, error) {
	lats, err := readCoord(nc, sel.LatName, LatNames)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lons, err := readCoord(nc, sel.LonName, LonNames)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}

	v, err := nc.Var(sel.Variable)
	if err != nil {
		return nil, fmt.Errorf("variable %q not found: %w", sel.Variable, err)
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) < 2 {
		return nil, fmt.Errorf("expected at least 2D data, got %dD", len(dims))
	}
	lens := make([]uint64, len(dims))
	for k, d := range dims {
		if lens[k], err = d.Len(); err != nil {
			return nil, fmt.Errorf("failed to get dim%d length: %w", k, err)
		}
	}

	nLat, nLon := len(lats), len(lons)
	last := len(dims) - 1
	transposed := false
	switch {
	case lens[last-1] == uint64(nLat) && lens[last] == uint64(nLon):
	case lens[last-1] == uint64(nLon) && lens[last] == uint64(nLat):
		transposed = true
	default:
		return nil, fmt.Errorf("dimension mismatch: data ends in [%d, %d], expected [%d, %d] or [%d, %d]",
			lens[last-1], lens[last], nLat, nLon, nLon, nLat)
	}

	start := make([]uint64, len(dims))
	count := make([]uint64, len(dims))
	for k := 0; k < last-1; k++ {
		count[k] = 1
	}
	if last >= 2 {
		if sel.TimeIndex < 0 || uint64(sel.TimeIndex) >= lens[0] {
			return nil, fmt.Errorf("time index %d outside [0, %d)", sel.TimeIndex, lens[0])
		}
		start[0] = uint64(sel.TimeIndex)
	}

	// Latitude rows can be narrowed before reading; longitudes are read in
	// full so they can be re-centred.
	latLo, latHi := 0, nLat-1
	if sel.Bounds != nil && !transposed && !sel.Verbatim {
		latLo, latHi, err = indexRange(lats, sel.Bounds.LatMin, sel.Bounds.LatMax)
		if err != nil {
			return nil, err
		}
	}
	rows := latHi - latLo + 1
	if transposed {
		start[last-1], count[last-1] = 0, uint64(nLon)
		start[last], count[last] = 0, uint64(nLat)
	} else {
		start[last-1], count[last-1] = uint64(latLo), uint64(rows)
		start[last], count[last] = 0, uint64(nLon)
	}

	flat, err := readSlice(v, start, count)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sel.Variable, err)
	}
	applyPacking(v, flat)

	var values [][]float64
	if transposed {
		values = transpose2D(reshape(flat, nLon, nLat))
	} else {
		values = reshape(flat, rows, nLon)
	}

	p := &Plane{
		Lats:     append([]float64(nil), lats[latLo:latHi+1]...),
		Lons:     lons,
		Values:   values,
		Unit:     textAttr(v, "units"),
		LongName: textAttr(v, "long_name"),
	}
	if sel.Verbatim {
		if sel.Bounds != nil {
			if err := p.subset(*sel.Bounds); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	if err := p.Prepare(sel.Bounds); err != nil {
		return nil, err
	}
	return p, nil
}

// Prepare normalises the plane's coordinates and, when bounds is set,
// trims it to the box plus one cell of margin.
func (p *Plane) Prepare(bounds *domain.Bounds) error {
	p.normalize(bounds)
	if bounds == nil {
		return nil
	}
	return p.subset(*bounds)
}

func readCoord(nc netcdf.Dataset, preferred string, candidates []string) ([]float64, error) {
	names := candidates
	if preferred != "" {
		names = append([]string{preferred}, candidates...)
	}
	for _, name := range names {
		v, err := nc.Var(name)
		if err != nil {
			continue
		}
		if data, err := readFloat64Var(v); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("no 1-D coordinate variable found (tried: %v)", names)
}

// indexRange returns the index span of a monotonic axis covering [lo, hi]
// plus one index of margin on each side.
func indexRange(axis []float64, lo, hi float64) (int, int, error) {
	first, last := -1, -1
	for i, c := range axis {
		if c >= lo-domain.CoordTolerance && c <= hi+domain.CoordTolerance {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, domain.NewError(domain.ErrNoOverlap, "no coordinates within [%g, %g]", lo, hi)
	}
	return clamp(first-1, 0, len(axis)-1), clamp(last+1, 0, len(axis)-1), nil
}

// clamp ensures value is within [minVal, maxVal] range.
func clamp(value, minVal, maxVal int) int {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}

// readFloat64Var reads a 1D variable as float64.
func readFloat64Var(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("expected 1D variable, got %dD", len(dims))
	}
	length, err := dims[0].Len()
	if err != nil {
		return nil, err
	}
	return readSlice(v, []uint64{0}, []uint64{length})
}

// readSlice reads a hyperslab and widens it to float64.
func readSlice(v netcdf.Var, start, count []uint64) ([]float64, error) {
	total := uint64(1)
	for _, c := range count {
		total *= c
	}
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	out := make([]float64, total)
	switch t {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64Slice(out, start, count); err != nil {
			return nil, err
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		for i, val := range tmp {
			out[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
	return out, nil
}

// applyPacking replaces fill values with domain.Missing, then applies
// scale_factor and add_offset.
func applyPacking(v netcdf.Var, flat []float64) {
	fills := fillValues(v)
	scale, hasScale := floatAttr(v, "scale_factor")
	offset, hasOffset := floatAttr(v, "add_offset")
	for i, val := range flat {
		if isFill(val, fills) {
			flat[i] = domain.Missing
			continue
		}
		if hasScale && scale != 0 {
			val *= scale
		}
		if hasOffset {
			val += offset
		}
		flat[i] = val
	}
}

func isFill(v float64, fills []float64) bool {
	if math.IsNaN(v) {
		return true
	}
	for _, f := range fills {
		if v == f || (math.Abs(f) > 1e15 && math.Abs(v-f) <= math.Abs(f)*1e-6) {
			return true
		}
	}
	return false
}

// fillValues returns the _FillValue and missing_value attributes present.
func fillValues(v netcdf.Var) []float64 {
	var out []float64
	for _, name := range []string{"_FillValue", "missing_value"} {
		if f, ok := floatAttr(v, name); ok {
			out = append(out, f)
		}
	}
	return out
}

func floatAttr(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	buf64 := make([]float64, n)
	if err := a.ReadFloat64s(buf64); err == nil {
		return buf64[0], true
	}
	buf32 := make([]float32, n)
	if err := a.ReadFloat32s(buf32); err == nil {
		return float64(buf32[0]), true
	}
	bufi := make([]int32, n)
	if err := a.ReadInt32s(bufi); err == nil {
		return float64(bufi[0]), true
	}
	bufs := make([]int16, n)
	if err := a.ReadInt16s(bufs); err == nil {
		return float64(bufs[0]), true
	}
	return 0, false
}

func textAttr(v netcdf.Var, name string) string {
	return readText(v.Attr(name))
}

func readText(a netcdf.Attr) string {
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

func reshape(flat []float64, nRows, nCols int) [][]float64 {
	values := make([][]float64, nRows)
	for i := 0; i < nRows; i++ {
		values[i] = flat[i*nCols : (i+1)*nCols]
	}
	return values
}

// transpose2D transposes a 2D array.
func transpose2D(data [][]float64) [][]float64 {
	if len(data) == 0 {
		return data
	}
	nRows := len(data)
	nCols := len(data[0])
	transposed := make([][]float64, nCols)
	for i := 0; i < nCols; i++ {
		transposed[i] = make([]float64, nRows)
		for j := 0; j < nRows; j++ {
			transposed[i][j] = data[j][i]
		}
	}
	return transposed
}
