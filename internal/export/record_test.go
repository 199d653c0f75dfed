package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/ensemble"
)

func analysed(t *testing.T) *ensemble.Result {
	t.Helper()
	g, err := domain.NewGrid([]float64{50, 51}, []float64{10, 11, 12}, domain.CellCenter)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	m := domain.Missing
	a, _ := domain.NewFieldDataset(g, [][]float64{{1, 2, m}, {4, 5, 6}}, "t2m", "K", domain.Provenance{Source: "gfs"})
	b, _ := domain.NewFieldDataset(g, [][]float64{{3, 2, m}, {4, 9, 6}}, "t2m", "K", domain.Provenance{Source: "hrrr"})
	res, err := ensemble.NewAnalyzer().Analyze([]*domain.FieldDataset{a, b}, []string{"GFS", "HRRR"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return res
}

func TestExport_RecordFields(t *testing.T) {
	rec := NewExporter(nil).Export(analysed(t), Options{})

	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}

	for _, key := range []string{"variable", "labels", "grid", "global_mean_spread", "min_value", "max_value", "id"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	grid := doc["grid"].(map[string]any)
	if grid["lat_count"].(float64) != 2 || grid["lon_count"].(float64) != 3 {
		t.Errorf("grid = %v", grid)
	}
	if _, ok := grid["bounds"].(map[string]any)["lat_min"]; !ok {
		t.Errorf("grid bounds = %v", grid["bounds"])
	}
	if doc["variable"] != "t2m" || doc["n_models"].(float64) != 2 {
		t.Errorf("variable/n_models = %v/%v", doc["variable"], doc["n_models"])
	}
	if _, ok := doc["mean"]; ok {
		t.Error("arrays exported without IncludeArrays")
	}
	pw := doc["pairwise_differences"].(map[string]any)
	if _, ok := pw["GFS_minus_HRRR"]; !ok {
		t.Errorf("pairwise = %v", pw)
	}
}

func TestExport_ArraysEncodeMissingAsNull(t *testing.T) {
	rec := NewExporter(nil).Export(analysed(t), Options{IncludeArrays: true})
	var buf bytes.Buffer
	if err := Encode(&buf, rec); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var doc struct {
		Spread [][]*float64 `json:"spread"`
		Mean   [][]*float64 `json:"mean"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Spread[0][2] != nil || doc.Mean[0][2] != nil {
		t.Error("missing cell should encode as null")
	}
	if doc.Mean[1][1] == nil || *doc.Mean[1][1] != 7 {
		t.Errorf("mean[1][1] = %v, want 7", doc.Mean[1][1])
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	rec := NewExporter(nil).Export(analysed(t), Options{})
	if err := WriteJSON(path, rec); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

type captureRenderer struct {
	req RenderRequest
}

func (c *captureRenderer) Render(_ context.Context, req RenderRequest) error {
	c.req = req
	return nil
}

func TestRender_DelegatesRequest(t *testing.T) {
	res := analysed(t)
	r := &captureRenderer{}
	if err := NewExporter(r).Render(context.Background(), res, "map.png"); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if r.req.Output != "map.png" || r.req.Title != "Ensemble Spread: t2m" {
		t.Errorf("request = %+v", r.req)
	}
	if len(r.req.Layers) != 2 || r.req.Layers[0].Label != "spread" {
		t.Errorf("layers = %+v", r.req.Layers)
	}
	if len(r.req.Lats) != 2 || len(r.req.Lons) != 3 {
		t.Errorf("coordinates = %v/%v", r.req.Lats, r.req.Lons)
	}

	if err := NewExporter(nil).Render(context.Background(), res, "x.png"); !errors.Is(err, ErrNoRenderer) {
		t.Errorf("err = %v, want ErrNoRenderer", err)
	}
}
