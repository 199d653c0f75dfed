package interp

import (
	"math"
	"sort"
)

const (
	epsilon    = 1e-9
	fullCircle = 360.0
)

// Axis is a strictly monotonic coordinate axis viewed in ascending order.
// Positions returned by its lookups are ascending positions; Index maps them
// back to the original coordinate index.
type Axis struct {
	centers  []float64
	index    []int
	lower    []float64
	upper    []float64
	circular bool
	periodic bool
}

// NewAxis builds an axis from monotonic coordinates. When edge is set the
// coordinates are the lower edges of their cells, otherwise cell centres.
// Circular axes (longitude) are compared modulo 360 and become periodic when
// their cells cover the full circle.
func NewAxis(coords []float64, edge, circular bool) *Axis {
	n := len(coords)
	a := &Axis{
		centers:  make([]float64, n),
		index:    make([]int, n),
		lower:    make([]float64, n),
		upper:    make([]float64, n),
		circular: circular,
	}
	pts := make([]float64, n)
	for k := range coords {
		src := k
		if n > 1 && coords[n-1] < coords[0] {
			src = n - 1 - k
		}
		pts[k] = coords[src]
		a.index[k] = src
	}
	if n == 0 {
		return a
	}

	if edge {
		for k := 0; k < n; k++ {
			a.lower[k] = pts[k]
			switch {
			case k+1 < n:
				a.upper[k] = pts[k+1]
			case n > 1:
				a.upper[k] = pts[k] + (pts[k] - pts[k-1])
			default:
				a.upper[k] = pts[k]
			}
			a.centers[k] = (a.lower[k] + a.upper[k]) / 2
		}
	} else {
		copy(a.centers, pts)
		for k := 0; k < n; k++ {
			switch {
			case n == 1:
				a.lower[k], a.upper[k] = pts[k], pts[k]
				continue
			case k == 0:
				a.lower[k] = pts[0] - (pts[1]-pts[0])/2
			default:
				a.lower[k] = (pts[k-1] + pts[k]) / 2
			}
			if k == n-1 {
				a.upper[k] = pts[k] + (pts[k]-pts[k-1])/2
			} else {
				a.upper[k] = (pts[k] + pts[k+1]) / 2
			}
		}
	}

	if circular && a.upper[n-1]-a.lower[0] >= fullCircle-1e-6 {
		a.periodic = true
	}
	return a
}

func (a *Axis) Len() int { return len(a.centers) }

// Index maps an ascending position to the original coordinate index.
func (a *Axis) Index(k int) int { return a.index[k] }

func (a *Axis) Center(k int) float64 { return a.centers[k] }
func (a *Axis) Lower(k int) float64  { return a.lower[k] }
func (a *Axis) Upper(k int) float64  { return a.upper[k] }

// Periodic reports whether the axis wraps around the full circle.
func (a *Axis) Periodic() bool { return a.periodic }

// Extent returns the outer cell edges.
func (a *Axis) Extent() (float64, float64) {
	if len(a.lower) == 0 {
		return math.NaN(), math.NaN()
	}
	return a.lower[0], a.upper[len(a.upper)-1]
}

// Align maps x onto the longitude convention of a circular axis
// (e.g. -10 onto 350 for a 0..360 axis). Non-circular axes return x.
func (a *Axis) Align(x float64) float64 {
	if !a.circular || len(a.centers) == 0 {
		return x
	}
	lo, hi := a.Extent()
	if a.periodic {
		return lo + normalizeLon360(x-lo)
	}
	for _, c := range []float64{x, x - fullCircle, x + fullCircle} {
		if c >= lo-epsilon && c <= hi+epsilon {
			return c
		}
	}
	return x
}

// Bracket finds the pair of centres surrounding x and the fractional
// position t of x between them. A one-point axis brackets only its own
// coordinate. On a periodic axis the segment between the last centre and the
// first centre + 360 is a valid bracket (k0 = n-1, k1 = 0).
func (a *Axis) Bracket(x float64) (k0, k1 int, t float64, ok bool) {
	n := len(a.centers)
	if n == 0 {
		return 0, 0, 0, false
	}
	x = a.Align(x)
	c := a.centers
	if n == 1 {
		if math.Abs(x-c[0]) <= epsilon {
			return 0, 0, 0, true
		}
		return 0, 0, 0, false
	}
	if x >= c[0]-epsilon && x <= c[n-1]+epsilon {
		idx := sort.SearchFloat64s(c, x)
		switch {
		case idx <= 0:
			return 0, 1, 0, true
		case idx >= n:
			return n - 2, n - 1, 1, true
		}
		return idx - 1, idx, clampUnit((x - c[idx-1]) / (c[idx] - c[idx-1])), true
	}
	if a.periodic {
		first := c[0] + fullCircle
		xx := x
		if xx < c[0] {
			xx += fullCircle
		}
		if xx >= c[n-1] && xx <= first && first > c[n-1] {
			return n - 1, 0, clampUnit((xx - c[n-1]) / (first - c[n-1])), true
		}
	}
	return 0, 0, 0, false
}

// Locate returns the cell whose edges contain x. A point on a shared edge
// belongs to the lower cell.
func (a *Axis) Locate(x float64) (int, bool) {
	n := len(a.centers)
	if n == 0 {
		return 0, false
	}
	x = a.Align(x)
	lo, hi := a.Extent()
	if n == 1 {
		if math.Abs(x-a.centers[0]) <= epsilon || (x >= lo && x <= hi && hi > lo) {
			return 0, true
		}
		return 0, false
	}
	if x < lo-epsilon || x > hi+epsilon {
		return 0, false
	}
	k := sort.SearchFloat64s(a.upper, x)
	if k >= n {
		k = n - 1
	}
	return k, true
}

// Overlap is the part of an axis cell covered by an interval.
type Overlap struct {
	K      int
	Lo, Hi float64
}

// Overlaps lists the cells intersecting [lo, hi] with a positive length.
// Circular axes also test the interval shifted by ±360.
func (a *Axis) Overlaps(lo, hi float64) []Overlap {
	if hi <= lo || len(a.centers) == 0 {
		return nil
	}
	shifts := []float64{0}
	if a.circular {
		shifts = []float64{-fullCircle, 0, fullCircle}
	}
	var out []Overlap
	for _, s := range shifts {
		l, h := lo+s, hi+s
		k := sort.SearchFloat64s(a.upper, l)
		for ; k < len(a.centers) && a.lower[k] < h; k++ {
			ol := math.Max(l, a.lower[k])
			oh := math.Min(h, a.upper[k])
			if oh-ol > epsilon {
				out = append(out, Overlap{K: k, Lo: ol - s, Hi: oh - s})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].K != out[j].K {
			return out[i].K < out[j].K
		}
		return out[i].Lo < out[j].Lo
	})
	return out
}

func normalizeLon360(lon float64) float64 {
	lon = math.Mod(lon, fullCircle)
	if lon < 0 {
		lon += fullCircle
	}
	return lon
}

// NormalizeLon180 maps a longitude into [-180, 180).
func NormalizeLon180(lon float64) float64 {
	lon = normalizeLon360(lon + 180)
	return lon - 180
}

// AxisRequiresWrap reports whether a longitude axis uses the 0..360
// convention.
func AxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	minVal := lons[0]
	maxVal := lons[len(lons)-1]
	if minVal > maxVal {
		minVal, maxVal = maxVal, minVal
	}
	return minVal >= 0 && maxVal > 180
}
