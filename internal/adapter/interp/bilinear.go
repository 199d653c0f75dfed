package interp

import (
	"fmt"
	"math"
)

// GridCell represents a cell in a regular grid with four corner values.
type GridCell struct {
	// Corner coordinates (forming a rectangle).
	X0, X1 float64 // X boundaries (longitude).
	Y0, Y1 float64 // Y boundaries (latitude).

	// Values at the four corners:
	// V00: value at (X0, Y0).
	// V10: value at (X1, Y0).
	// V01: value at (X0, Y1).
	// V11: value at (X1, Y1).
	V00, V10, V01, V11 float64
}

// Coefficients returns the corner weights [w00, w10, w01, w11] of (x, y)
// inside cell. The weights are non-negative and sum to 1:
//
//	w00 = (1-t)(1-u)   w10 = t(1-u)   w01 = (1-t)u   w11 = tu
//
// where
//
//	t = (x - x0) / (x1 - x0)
//	u = (y - y0) / (y1 - y0)
func Coefficients(cell GridCell, x, y float64) ([4]float64, error) {
	if cell.X1 <= cell.X0 {
		return [4]float64{}, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return [4]float64{}, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	// Small tolerance for floating point.
	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return [4]float64{}, fmt.Errorf("x coordinate %.6f is outside grid cell [%.6f, %.6f]", x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return [4]float64{}, fmt.Errorf("y coordinate %.6f is outside grid cell [%.6f, %.6f]", y, cell.Y0, cell.Y1)
	}

	t := clampUnit((x - cell.X0) / (cell.X1 - cell.X0))
	u := clampUnit((y - cell.Y0) / (cell.Y1 - cell.Y0))

	return [4]float64{(1 - t) * (1 - u), t * (1 - u), (1 - t) * u, t * u}, nil
}

// BilinearInterpolate performs bilinear interpolation within a grid cell.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	w, err := Coefficients(cell, x, y)
	if err != nil {
		return 0, err
	}
	return w[0]*cell.V00 + w[1]*cell.V10 + w[2]*cell.V01 + w[3]*cell.V11, nil
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Grid2D is a rectilinear 2D grid of point values, used for direct point
// interpolation. Coordinates may run in either direction.
type Grid2D struct {
	X      []float64   // X coordinates (longitudes).
	Y      []float64   // Y coordinates (latitudes).
	Values [][]float64 // Values[i][j] corresponds to (X[j], Y[i]).

	// Circular compares X modulo 360 and wraps across the seam when the
	// cells cover the full circle.
	Circular bool
}

// Validate checks if the grid is valid.
func (g *Grid2D) Validate() error {
	if len(g.X) == 0 {
		return fmt.Errorf("grid must have at least 1 X coordinate")
	}
	if len(g.Y) == 0 {
		return fmt.Errorf("grid must have at least 1 Y coordinate")
	}
	if len(g.Values) != len(g.Y) {
		return fmt.Errorf("number of value rows (%d) must match Y coordinates (%d)", len(g.Values), len(g.Y))
	}
	for i, row := range g.Values {
		if len(row) != len(g.X) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(g.X))
		}
	}
	if !strictlyMonotonic(g.X) {
		return fmt.Errorf("X coordinates must be strictly monotonic")
	}
	if !strictlyMonotonic(g.Y) {
		return fmt.Errorf("Y coordinates must be strictly monotonic")
	}
	return nil
}

func strictlyMonotonic(c []float64) bool {
	if len(c) < 2 {
		return true
	}
	up := c[1] > c[0]
	for i := 1; i < len(c); i++ {
		if (c[i] > c[i-1]) != up || c[i] == c[i-1] {
			return false
		}
	}
	return true
}

// InterpolateAt performs bilinear interpolation at a given point. A missing
// (NaN) corner makes the result NaN. One-point axes match only their own
// coordinate.
func (g *Grid2D) InterpolateAt(x, y float64) (float64, error) {
	if err := g.Validate(); err != nil {
		return 0, fmt.Errorf("invalid grid: %w", err)
	}

	xa := NewAxis(g.X, false, g.Circular)
	ya := NewAxis(g.Y, false, false)
	j0, j1, tx, ok := xa.Bracket(x)
	if !ok {
		lo, hi := xa.Extent()
		return 0, fmt.Errorf("x coordinate %.6f is outside grid range [%.6f, %.6f]", x, lo, hi)
	}
	i0, i1, ty, ok := ya.Bracket(y)
	if !ok {
		lo, hi := ya.Extent()
		return 0, fmt.Errorf("y coordinate %.6f is outside grid range [%.6f, %.6f]", y, lo, hi)
	}
	j0, j1 = xa.Index(j0), xa.Index(j1)
	i0, i1 = ya.Index(i0), ya.Index(i1)

	cell := GridCell{
		X0:  0,
		X1:  1,
		Y0:  0,
		Y1:  1,
		V00: g.Values[i0][j0],
		V10: g.Values[i0][j1],
		V01: g.Values[i1][j0],
		V11: g.Values[i1][j1],
	}
	return BilinearInterpolate(cell, tx, ty)
}
