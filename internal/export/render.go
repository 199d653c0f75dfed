package export

import (
	"context"
	"errors"
	"fmt"

	"go.ngs.io/wxgrid/internal/ensemble"
)

// ErrNoRenderer is returned by Render when the exporter has no renderer.
var ErrNoRenderer = errors.New("no renderer configured")

// Layer is one named 2-D array to draw.
type Layer struct {
	Label  string
	Values [][]float64
}

// RenderRequest is everything a renderer needs; renderers must not look at
// anything else.
type RenderRequest struct {
	Lats     []float64
	Lons     []float64
	Layers   []Layer
	Variable string
	Unit     string
	Title    string
	Output   string
}

// Renderer draws a request to its output path.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// RenderRequestFor builds the request for res. The spread layer comes first,
// followed by the ensemble mean.
func RenderRequestFor(res *ensemble.Result, output string) RenderRequest {
	return RenderRequest{
		Lats: res.Grid.Lats(),
		Lons: res.Grid.Lons(),
		Layers: []Layer{
			{Label: "spread", Values: res.Spread},
			{Label: "mean", Values: res.Mean},
		},
		Variable: res.Variable,
		Unit:     res.Unit,
		Title:    fmt.Sprintf("Ensemble Spread: %s", res.Variable),
		Output:   output,
	}
}

// Render hands the spread map of res to the renderer.
func (e *Exporter) Render(ctx context.Context, res *ensemble.Result, output string) error {
	if e.renderer == nil {
		return ErrNoRenderer
	}
	if err := e.renderer.Render(ctx, RenderRequestFor(res, output)); err != nil {
		return fmt.Errorf("failed to render %s: %w", output, err)
	}
	return nil
}
