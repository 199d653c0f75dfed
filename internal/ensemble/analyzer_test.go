package ensemble

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"go.ngs.io/wxgrid/internal/domain"
)

func grid(t *testing.T, nLat, nLon int) *domain.GridDefinition {
	t.Helper()
	lats := make([]float64, nLat)
	for i := range lats {
		lats[i] = 40 + float64(i)
	}
	lons := make([]float64, nLon)
	for j := range lons {
		lons[j] = float64(j)
	}
	g, err := domain.NewGrid(lats, lons, domain.CellCenter)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func field(t *testing.T, g *domain.GridDefinition, variable, unit string, values [][]float64) *domain.FieldDataset {
	t.Helper()
	f, err := domain.NewFieldDataset(g, values, variable, unit, domain.Provenance{Source: "test"})
	if err != nil {
		t.Fatalf("NewFieldDataset: %v", err)
	}
	return f
}

func TestAnalyze_ConstantOffsetSpread(t *testing.T) {
	g := grid(t, 2, 2)
	base := [][]float64{{280, 281}, {282, 283}}
	shifted := [][]float64{{282, 283}, {284, 285}}
	const c = 2.0

	res, err := NewAnalyzer().Analyze([]*domain.FieldDataset{
		field(t, g, "t2m", "K", base),
		field(t, g, "t2m", "K", shifted),
	}, []string{"GFS", "HRRR"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	want := c * math.Sqrt2 / 2
	for i := range res.Spread {
		for j := range res.Spread[i] {
			if math.Abs(res.Spread[i][j]-want) > 1e-12 {
				t.Errorf("spread(%d,%d) = %.15f, want %.15f", i, j, res.Spread[i][j], want)
			}
			if math.Abs(res.Mean[i][j]-(base[i][j]+c/2)) > 1e-12 {
				t.Errorf("mean(%d,%d) = %g, want %g", i, j, res.Mean[i][j], base[i][j]+c/2)
			}
			if res.Residuals[0].Values[i][j] != -1 || res.Residuals[1].Values[i][j] != 1 {
				t.Errorf("residuals(%d,%d) = %g/%g, want -1/1", i, j, res.Residuals[0].Values[i][j], res.Residuals[1].Values[i][j])
			}
		}
	}
	if math.Abs(res.Aggregates.GlobalMeanSpread-want) > 1e-12 {
		t.Errorf("global mean spread = %g, want %g", res.Aggregates.GlobalMeanSpread, want)
	}
	if res.Aggregates.MinValue != 281 || res.Aggregates.MaxValue != 284 {
		t.Errorf("min/max = %g/%g, want 281/284", res.Aggregates.MinValue, res.Aggregates.MaxValue)
	}
	if len(res.Pairwise) != 1 || res.Pairwise[0].Name != "GFS_minus_HRRR" || res.Pairwise[0].MeanDiff != -2 {
		t.Errorf("pairwise = %+v", res.Pairwise)
	}
}

func TestAnalyze_PermutationInvariant(t *testing.T) {
	g := grid(t, 4, 5)
	rng := rand.New(rand.NewSource(7))
	var fields []*domain.FieldDataset
	for k := 0; k < 4; k++ {
		values := make([][]float64, 4)
		for i := range values {
			values[i] = make([]float64, 5)
			for j := range values[i] {
				values[i][j] = 270 + rng.Float64()*30
			}
		}
		fields = append(fields, field(t, g, "t2m", "K", values))
	}

	a := NewAnalyzer()
	ref, err := a.Analyze(fields, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	perm := []*domain.FieldDataset{fields[2], fields[0], fields[3], fields[1]}
	got, err := a.Analyze(perm, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i := range ref.Mean {
		for j := range ref.Mean[i] {
			if ref.Mean[i][j] != got.Mean[i][j] || ref.Spread[i][j] != got.Spread[i][j] {
				t.Fatalf("(%d,%d) not bit-identical under permutation", i, j)
			}
		}
	}
	if ref.Aggregates.GlobalMeanSpread != got.Aggregates.GlobalMeanSpread {
		t.Error("global mean spread changed under permutation")
	}
}

func TestAnalyze_PermutationKeepsLabels(t *testing.T) {
	g := grid(t, 3, 3)
	rng := rand.New(rand.NewSource(11))
	labels := []string{"gfs", "icon", "ecmwf", "hrrr"}
	var fields []*domain.FieldDataset
	for range labels {
		values := make([][]float64, 3)
		for i := range values {
			values[i] = make([]float64, 3)
			for j := range values[i] {
				values[i][j] = 270 + rng.Float64()*30
			}
		}
		fields = append(fields, field(t, g, "t2m", "K", values))
	}

	a := NewAnalyzer()
	ref, err := a.Analyze(fields, labels)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	order := []int{3, 1, 0, 2}
	permFields := make([]*domain.FieldDataset, len(order))
	permLabels := make([]string, len(order))
	for k, idx := range order {
		permFields[k], permLabels[k] = fields[idx], labels[idx]
	}
	got, err := a.Analyze(permFields, permLabels)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if ref.Aggregates != got.Aggregates {
		t.Errorf("aggregates changed under permutation: %+v vs %+v", ref.Aggregates, got.Aggregates)
	}
	for k, idx := range order {
		if got.Residuals[k].Label != labels[idx] || got.Sources[k].Label != labels[idx] {
			t.Fatalf("position %d labelled %q/%q, want %q", k, got.Residuals[k].Label, got.Sources[k].Label, labels[idx])
		}
		for i := range ref.Mean {
			for j := range ref.Mean[i] {
				if math.Abs(got.Residuals[k].Values[i][j]-ref.Residuals[idx].Values[i][j]) > 1e-12 {
					t.Fatalf("residual of %q at (%d,%d) = %g, want %g", labels[idx], i, j,
						got.Residuals[k].Values[i][j], ref.Residuals[idx].Values[i][j])
				}
			}
		}
		if got.Sources[k] != ref.Sources[idx] {
			t.Errorf("stats of %q = %+v, want %+v", labels[idx], got.Sources[k], ref.Sources[idx])
		}
	}
}

func TestAnalyze_IdenticalFields(t *testing.T) {
	g := grid(t, 2, 3)
	vals := [][]float64{{280, 281, 282}, {283, 284, 285}}
	res, err := NewAnalyzer().Analyze([]*domain.FieldDataset{
		field(t, g, "t2m", "K", vals),
		field(t, g, "t2m", "K", vals),
	}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i := range vals {
		for j := range vals[i] {
			if res.Spread[i][j] != 0 {
				t.Errorf("spread(%d,%d) = %g, want 0", i, j, res.Spread[i][j])
			}
			for _, r := range res.Residuals {
				if r.Values[i][j] != 0 {
					t.Errorf("residual %q (%d,%d) = %g, want 0", r.Label, i, j, r.Values[i][j])
				}
			}
			if res.Pairwise[0].Values[i][j] != 0 {
				t.Errorf("pairwise (%d,%d) = %g, want 0", i, j, res.Pairwise[0].Values[i][j])
			}
		}
	}
	if res.Aggregates.GlobalMeanSpread != 0 || res.Aggregates.MaxSpread != 0 {
		t.Errorf("aggregates = %+v", res.Aggregates)
	}
	if res.Pairwise[0].MeanDiff != 0 || res.Pairwise[0].MaxAbsDiff != 0 {
		t.Errorf("pairwise = %+v", res.Pairwise[0])
	}
}

func TestAnalyze_MissingCells(t *testing.T) {
	g := grid(t, 1, 3)
	m := domain.Missing
	res, err := NewAnalyzer().Analyze([]*domain.FieldDataset{
		field(t, g, "t2m", "K", [][]float64{{1, m, m}}),
		field(t, g, "t2m", "K", [][]float64{{3, 5, m}}),
		field(t, g, "t2m", "K", [][]float64{{5, m, m}}),
	}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if res.Count[0][0] != 3 || res.Mean[0][0] != 3 || res.Spread[0][0] != 2 {
		t.Errorf("full cell: count=%d mean=%g spread=%g", res.Count[0][0], res.Mean[0][0], res.Spread[0][0])
	}
	if res.Count[0][1] != 1 || res.Mean[0][1] != 5 || !domain.IsMissing(res.Spread[0][1]) {
		t.Errorf("single contributor: count=%d mean=%g spread=%g", res.Count[0][1], res.Mean[0][1], res.Spread[0][1])
	}
	if !domain.IsMissing(res.Mean[0][2]) || !domain.IsMissing(res.Residuals[0].Values[0][2]) {
		t.Error("cell with no contributors must be missing")
	}
	if res.Aggregates.ValidCells != 1 || res.Aggregates.MissingCells != 2 {
		t.Errorf("aggregates = %+v", res.Aggregates)
	}
	if res.Labels[2] != "Model_3" {
		t.Errorf("default label = %q", res.Labels[2])
	}
}

func TestAnalyze_Preconditions(t *testing.T) {
	g := grid(t, 2, 2)
	other := grid(t, 2, 3)
	vals := [][]float64{{1, 2}, {3, 4}}
	a := field(t, g, "t2m", "K", vals)

	tests := []struct {
		name   string
		fields []*domain.FieldDataset
		labels []string
		want   error
	}{
		{"single field", []*domain.FieldDataset{a}, nil, domain.ErrInsufficientData},
		{"single field with wrong labels", []*domain.FieldDataset{a}, []string{"x", "y"}, domain.ErrInsufficientData},
		{"label count", []*domain.FieldDataset{a, a}, []string{"x"}, domain.ErrLabelCountMismatch},
		{"duplicate label", []*domain.FieldDataset{a, a, a}, []string{"gfs", "gfs", "icon"}, domain.ErrLabelCountMismatch},
		{"grid", []*domain.FieldDataset{a, field(t, other, "t2m", "K", [][]float64{{1, 2, 3}, {4, 5, 6}})}, nil, domain.ErrGridMismatch},
		{"variable", []*domain.FieldDataset{a, field(t, g, "u10", "K", vals)}, nil, domain.ErrVariableMismatch},
		{"unit", []*domain.FieldDataset{a, field(t, g, "t2m", "degC", vals)}, nil, domain.ErrUnitMismatch},
		{"grid before unit", []*domain.FieldDataset{a, field(t, other, "t2m", "degC", [][]float64{{1, 2, 3}, {4, 5, 6}})}, nil, domain.ErrGridMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer().Analyze(tt.fields, tt.labels)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewAnalyzer().Analyze([]*domain.FieldDataset{a, field(t, g, "t2m", "kelvin", vals)}, nil); err != nil {
		t.Errorf("unit aliases should be compatible: %v", err)
	}
}

func TestAnalyze_TopSpread(t *testing.T) {
	g := grid(t, 2, 2)
	res, err := NewAnalyzer().Analyze([]*domain.FieldDataset{
		field(t, g, "t2m", "K", [][]float64{{0, 0}, {0, 0}}),
		field(t, g, "t2m", "K", [][]float64{{1, 4}, {4, 2}}),
	}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.TopSpread) != 3 {
		t.Fatalf("got %d locations, want 3", len(res.TopSpread))
	}
	first, second, third := res.TopSpread[0], res.TopSpread[1], res.TopSpread[2]
	if first.Lat != 40 || first.Lon != 1 || second.Lat != 41 || second.Lon != 0 {
		t.Errorf("ties must keep grid order: %+v", res.TopSpread)
	}
	if third.Lat != 41 || third.Lon != 1 {
		t.Errorf("third = %+v", third)
	}
	if res.Sources[1].Max != 4 || res.Sources[1].Min != 1 {
		t.Errorf("source stats = %+v", res.Sources[1])
	}
}
