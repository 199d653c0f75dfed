package render

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.ngs.io/wxgrid/internal/export"
)

func TestHeatMap_WritesEveryLayer(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "spread.png")
	req := export.RenderRequest{
		Lats: []float64{52, 51, 50},
		Lons: []float64{0, 1},
		Layers: []export.Layer{
			{Label: "spread", Values: [][]float64{{1, 2}, {3, math.NaN()}, {5, 6}}},
			{Label: "mean", Values: [][]float64{{7, 7}, {7, 7}, {7, 7}}},
		},
		Variable: "t2m",
		Unit:     "K",
		Title:    "Ensemble Spread: t2m",
		Output:   out,
	}

	if err := NewHeatMap().Render(context.Background(), req); err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, p := range []string{out, filepath.Join(dir, "spread_mean.png")} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", p)
		}
	}
}

func TestLayerGrid_AscendingView(t *testing.T) {
	g, err := newLayerGrid([]float64{52, 51}, []float64{0, 1}, [][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("newLayerGrid: %v", err)
	}
	if g.Y(0) != 51 || g.Z(0, 0) != 3 {
		t.Errorf("row 0 = (%g, %g), want latitude 51 value 3", g.Y(0), g.Z(0, 0))
	}
	if g.Min() != 1 || g.Max() != 4 {
		t.Errorf("range = [%g, %g]", g.Min(), g.Max())
	}

	if _, err := newLayerGrid([]float64{1}, []float64{0, 1}, [][]float64{{1, 2}}); err == nil {
		t.Error("single-row grid should be rejected")
	}
}
