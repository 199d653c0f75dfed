package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoordTolerance is the coordinate tolerance, in degrees, under which two
// grids are considered equal.
const CoordTolerance = 1e-6

// Convention says what a grid coordinate denotes.
type Convention int

const (
	// CellCenter coordinates are cell centres.
	CellCenter Convention = iota
	// CellEdge coordinates are the south/west edge of their cell. The cell
	// extends to the next coordinate; the last cell reuses the previous spacing.
	CellEdge
)

func (c Convention) String() string {
	switch c {
	case CellCenter:
		return "cell_center"
	case CellEdge:
		return "cell_edge"
	default:
		return fmt.Sprintf("convention(%d)", int(c))
	}
}

// ParseConvention accepts the names produced by Convention.String.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cell_center", "center":
		return CellCenter, nil
	case "cell_edge", "edge":
		return CellEdge, nil
	}
	return CellCenter, NewError(ErrInvalidGrid, "unknown coordinate convention %q", s)
}

// Bounds is a lat/lon bounding box in degrees.
type Bounds struct {
	LatMin float64 `json:"lat_min" yaml:"lat_min"`
	LatMax float64 `json:"lat_max" yaml:"lat_max"`
	LonMin float64 `json:"lon_min" yaml:"lon_min"`
	LonMax float64 `json:"lon_max" yaml:"lon_max"`
}

// Validate checks -90 <= lat_min < lat_max <= 90 and -180 <= lon_min < lon_max <= 360.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.LatMin, b.LatMax, b.LonMin, b.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewError(ErrInvalidGrid, "bounds must be finite: %s", b)
		}
	}
	if b.LatMin >= b.LatMax {
		return NewError(ErrInvalidGrid, "lat_min %.6g must be below lat_max %.6g", b.LatMin, b.LatMax)
	}
	if b.LonMin >= b.LonMax {
		return NewError(ErrInvalidGrid, "lon_min %.6g must be below lon_max %.6g", b.LonMin, b.LonMax)
	}
	if b.LatMin < -90 || b.LatMax > 90 {
		return NewError(ErrInvalidGrid, "latitude bounds outside [-90, 90]: %s", b)
	}
	if b.LonMin < -180 || b.LonMax > 360 {
		return NewError(ErrInvalidGrid, "longitude bounds outside [-180, 360]: %s", b)
	}
	return nil
}

// Contains reports whether (lat, lon) lies inside b. Longitudes are compared
// modulo 360.
func (b Bounds) Contains(lat, lon float64) bool {
	if lat < b.LatMin || lat > b.LatMax {
		return false
	}
	for _, l := range []float64{lon, lon - 360, lon + 360} {
		if l >= b.LonMin && l <= b.LonMax {
			return true
		}
	}
	return false
}

func (b Bounds) String() string {
	return fmt.Sprintf("lat[%g, %g] lon[%g, %g]", b.LatMin, b.LatMax, b.LonMin, b.LonMax)
}

// ParseBounds parses "lat_min,lat_max,lon_min,lon_max".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, NewError(ErrInvalidGrid, "bounds %q must be lat_min,lat_max,lon_min,lon_max", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, NewError(ErrInvalidGrid, "bounds %q: %v", s, err)
		}
		vals[i] = v
	}
	b := Bounds{LatMin: vals[0], LatMax: vals[1], LonMin: vals[2], LonMax: vals[3]}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// Region is a named bounding box.
type Region struct {
	Name string
	Bounds
}

// GridDefinition is an immutable rectilinear lat/lon grid.
type GridDefinition struct {
	lats []float64
	lons []float64
	conv Convention
	id   string
}

// NewGrid validates and copies the coordinate vectors. Each axis must be
// non-empty, finite and strictly monotonic (ascending or descending).
func NewGrid(lats, lons []float64, conv Convention) (*GridDefinition, error) {
	if err := checkAxis("latitude", lats); err != nil {
		return nil, err
	}
	if err := checkAxis("longitude", lons); err != nil {
		return nil, err
	}
	if conv != CellCenter && conv != CellEdge {
		return nil, NewError(ErrInvalidGrid, "unknown coordinate convention %d", int(conv))
	}
	g := &GridDefinition{
		lats: append([]float64(nil), lats...),
		lons: append([]float64(nil), lons...),
		conv: conv,
	}
	g.id = g.identity()
	return g, nil
}

func checkAxis(name string, c []float64) error {
	if len(c) == 0 {
		return NewError(ErrInvalidGrid, "%s axis is empty", name)
	}
	for i, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewError(ErrInvalidGrid, "%s[%d] is not finite", name, i)
		}
	}
	if len(c) < 2 {
		return nil
	}
	asc := c[1] > c[0]
	for i := 1; i < len(c); i++ {
		if asc && c[i] <= c[i-1] || !asc && c[i] >= c[i-1] {
			return NewError(ErrInvalidGrid, "%s axis is not strictly monotonic at index %d", name, i)
		}
	}
	return nil
}

// BuildGrid builds a regular cell-centre grid spanning b at the given
// resolution. Each axis has ceil((max-min)/res)+1 points starting at min,
// except that longitudes a full turn or more from the first are dropped.
func BuildGrid(b Bounds, resolution float64) (*GridDefinition, error) {
	if math.IsNaN(resolution) || math.IsInf(resolution, 0) || resolution <= 0 {
		return nil, NewError(ErrInvalidGrid, "resolution must be positive, got %g", resolution)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	nLat := axisCount(b.LatMin, b.LatMax, resolution)
	nLon := axisCount(b.LonMin, b.LonMax, resolution)
	for nLon > 1 && float64(nLon-1)*resolution >= 360-CoordTolerance {
		nLon--
	}
	if nLat <= 0 || nLon <= 0 {
		return nil, NewError(ErrInvalidGrid, "grid over %s at %g has no points", b, resolution)
	}
	return NewGrid(axisPoints(b.LatMin, resolution, nLat), axisPoints(b.LonMin, resolution, nLon), CellCenter)
}

func axisCount(lo, hi, res float64) int {
	q := (hi - lo) / res
	if r := math.Round(q); math.Abs(q-r) < 1e-9 {
		return int(r) + 1
	}
	return int(math.Ceil(q)) + 1
}

func axisPoints(lo, res float64, n int) []float64 {
	out := make([]float64, n)
	for k := range out {
		out[k] = lo + float64(k)*res
	}
	return out
}

// GridFromField returns the grid a field is defined on.
func GridFromField(f *FieldDataset) *GridDefinition {
	if f == nil {
		return nil
	}
	return f.Grid
}

// Lats returns a copy of the latitude coordinates.
func (g *GridDefinition) Lats() []float64 { return append([]float64(nil), g.lats...) }

// Lons returns a copy of the longitude coordinates.
func (g *GridDefinition) Lons() []float64 { return append([]float64(nil), g.lons...) }

func (g *GridDefinition) NLat() int { return len(g.lats) }
func (g *GridDefinition) NLon() int { return len(g.lons) }

// Shape returns (nLat, nLon).
func (g *GridDefinition) Shape() (int, int) { return len(g.lats), len(g.lons) }

// Size is the number of cells.
func (g *GridDefinition) Size() int { return len(g.lats) * len(g.lons) }

func (g *GridDefinition) Convention() Convention { return g.conv }

// Lat returns the i-th latitude.
func (g *GridDefinition) Lat(i int) float64 { return g.lats[i] }

// Lon returns the j-th longitude.
func (g *GridDefinition) Lon(j int) float64 { return g.lons[j] }

// Bounds returns the extent of the coordinates themselves.
func (g *GridDefinition) Bounds() Bounds {
	latMin, latMax := minMax(g.lats)
	lonMin, lonMax := minMax(g.lons)
	return Bounds{LatMin: latMin, LatMax: latMax, LonMin: lonMin, LonMax: lonMax}
}

// Extent returns the area covered by the cells: the coordinate bounds
// widened to the outer cell edges. Single-point axes have zero width.
func (g *GridDefinition) Extent() Bounds {
	edge := g.conv == CellEdge
	latMin, latMax := axisExtent(g.lats, edge)
	lonMin, lonMax := axisExtent(g.lons, edge)
	return Bounds{LatMin: latMin, LatMax: latMax, LonMin: lonMin, LonMax: lonMax}
}

func axisExtent(c []float64, edge bool) (float64, float64) {
	lo, hi := minMax(c)
	n := len(c)
	if n < 2 {
		return lo, hi
	}
	first := math.Abs(c[1] - c[0])
	last := math.Abs(c[n-1] - c[n-2])
	if c[0] > c[n-1] {
		first, last = last, first
	}
	if edge {
		return lo, hi + last
	}
	return lo - first/2, hi + last/2
}

func minMax(c []float64) (float64, float64) {
	lo, hi := c[0], c[len(c)-1]
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Equal reports whether both grids share the convention, the shape and every
// coordinate within CoordTolerance.
func (g *GridDefinition) Equal(o *GridDefinition) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.conv != o.conv || len(g.lats) != len(o.lats) || len(g.lons) != len(o.lons) {
		return false
	}
	for i := range g.lats {
		if math.Abs(g.lats[i]-o.lats[i]) > CoordTolerance {
			return false
		}
	}
	for j := range g.lons {
		if math.Abs(g.lons[j]-o.lons[j]) > CoordTolerance {
			return false
		}
	}
	return true
}

// Identity is a stable digest of the grid used in cache keys. Coordinates
// are quantised to CoordTolerance first.
func (g *GridDefinition) Identity() string { return g.id }

func (g *GridDefinition) identity() string {
	h := sha256.New()
	var buf [8]byte
	write := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	write(int64(g.conv))
	write(int64(len(g.lats)))
	write(int64(len(g.lons)))
	for _, c := range g.lats {
		write(int64(math.Round(c / CoordTolerance)))
	}
	for _, c := range g.lons {
		write(int64(math.Round(c / CoordTolerance)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Describe renders a short human-readable summary.
func (g *GridDefinition) Describe() string {
	return fmt.Sprintf("%dx%d %s %s", len(g.lats), len(g.lons), g.conv, g.Bounds())
}
