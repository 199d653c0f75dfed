// Package render draws render requests as heat-map images.
package render

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.ngs.io/wxgrid/internal/adapter/interp"
	"go.ngs.io/wxgrid/internal/export"
)

// HeatMap renders every layer of a request to an image file. The first
// layer goes to the request's output path, the others to
// <base>_<label><ext> next to it. The format follows the extension.
type HeatMap struct {
	Width, Height vg.Length
	Colors        int
}

// NewHeatMap returns a renderer producing 8x6 inch images.
func NewHeatMap() *HeatMap {
	return &HeatMap{Width: 8 * vg.Inch, Height: 6 * vg.Inch, Colors: 12}
}

// Render implements export.Renderer.
func (h *HeatMap) Render(ctx context.Context, req export.RenderRequest) error {
	if len(req.Layers) == 0 {
		return fmt.Errorf("render request has no layers")
	}
	if dir := filepath.Dir(req.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	for k, layer := range req.Layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := req.Output
		title := req.Title
		if k > 0 {
			ext := filepath.Ext(req.Output)
			path = strings.TrimSuffix(req.Output, ext) + "_" + layer.Label + ext
			title = fmt.Sprintf("Ensemble %s: %s", layer.Label, req.Variable)
		}
		if err := h.draw(req, layer, title, path); err != nil {
			return err
		}
	}
	return nil
}

func (h *HeatMap) draw(req export.RenderRequest, layer export.Layer, title, path string) error {
	g, err := newLayerGrid(req.Lats, req.Lons, layer.Values)
	if err != nil {
		return fmt.Errorf("layer %s: %w", layer.Label, err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = fmt.Sprintf("Latitude  (%s [%s])", layer.Label, req.Unit)

	hm := plotter.NewHeatMap(g, palette.Heat(h.Colors, 1))
	hm.NaN = color.Transparent
	p.Add(hm)

	if err := p.Save(h.Width, h.Height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// layerGrid adapts a lat/lon array to plotter.GridXYZ with ascending axes.
type layerGrid struct {
	lat, lon *interp.Axis
	values   [][]float64
	min, max float64
}

func newLayerGrid(lats, lons []float64, values [][]float64) (*layerGrid, error) {
	if len(lats) < 2 || len(lons) < 2 {
		return nil, fmt.Errorf("need at least 2x2 cells, got %dx%d", len(lats), len(lons))
	}
	if len(values) != len(lats) {
		return nil, fmt.Errorf("%d rows for %d latitudes", len(values), len(lats))
	}
	g := &layerGrid{
		lat:    interp.NewAxis(lats, false, false),
		lon:    interp.NewAxis(lons, false, false),
		values: values,
		min:    math.Inf(1),
		max:    math.Inf(-1),
	}
	for _, row := range values {
		if len(row) != len(lons) {
			return nil, fmt.Errorf("row has %d values for %d longitudes", len(row), len(lons))
		}
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			g.min = math.Min(g.min, v)
			g.max = math.Max(g.max, v)
		}
	}
	switch {
	case math.IsInf(g.min, 1):
		g.min, g.max = 0, 1
	case g.min == g.max:
		g.max = g.min + 1
	}
	return g, nil
}

func (g *layerGrid) Dims() (c, r int) { return g.lon.Len(), g.lat.Len() }
func (g *layerGrid) Z(c, r int) float64 {
	return g.values[g.lat.Index(r)][g.lon.Index(c)]
}
func (g *layerGrid) X(c int) float64 { return g.lon.Center(c) }
func (g *layerGrid) Y(r int) float64 { return g.lat.Center(r) }
func (g *layerGrid) Min() float64    { return g.min }
func (g *layerGrid) Max() float64    { return g.max }
