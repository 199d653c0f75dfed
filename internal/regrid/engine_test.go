package regrid

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"go.ngs.io/wxgrid/internal/adapter/interp"
	"go.ngs.io/wxgrid/internal/domain"
)

func axis(lo, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func mustGrid(t *testing.T, lats, lons []float64) *domain.GridDefinition {
	t.Helper()
	g, err := domain.NewGrid(lats, lons, domain.CellCenter)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func makeField(t *testing.T, g *domain.GridDefinition, fn func(lat, lon float64) float64) *domain.FieldDataset {
	t.Helper()
	values := make([][]float64, g.NLat())
	for i := range values {
		values[i] = make([]float64, g.NLon())
		for j := range values[i] {
			values[i][j] = fn(g.Lat(i), g.Lon(j))
		}
	}
	f, err := domain.NewFieldDataset(g, values, "t2m", "K", domain.Provenance{Source: "test"})
	if err != nil {
		t.Fatalf("NewFieldDataset: %v", err)
	}
	return f
}

func globalOneDegree(t *testing.T) *domain.GridDefinition {
	return mustGrid(t, axis(-90, 1, 181), axis(-180, 1, 360))
}

func europeQuarter(t *testing.T) *domain.GridDefinition {
	t.Helper()
	g, err := domain.BuildGrid(domain.Bounds{LatMin: 30, LatMax: 72, LonMin: -25, LonMax: 45}, 0.25)
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	return g
}

func countMissing(values [][]float64) int {
	n := 0
	for _, row := range values {
		for _, v := range row {
			if domain.IsMissing(v) {
				n++
			}
		}
	}
	return n
}

func TestRegrid_BilinearGlobalToRegional(t *testing.T) {
	src := makeField(t, globalOneDegree(t), func(lat, lon float64) float64 { return 250 + lat + 0.5*lon })
	target := europeQuarter(t)

	e := NewEngine()
	out, err := e.Regrid(src, target, Bilinear)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	if n := countMissing(out.Values); n != 0 {
		t.Fatalf("%d missing cells inside source coverage", n)
	}
	for i := 0; i < target.NLat(); i += 17 {
		for j := 0; j < target.NLon(); j += 23 {
			want := 250 + target.Lat(i) + 0.5*target.Lon(j)
			if got := out.Values[i][j]; math.Abs(got-want) > 1e-9 {
				t.Fatalf("value at (%g, %g) = %.12f, want %.12f", target.Lat(i), target.Lon(j), got, want)
			}
		}
	}
	if out.Attrs[AttrMethod] != "bilinear" || out.Attrs[AttrTargetShape] != "169x281" {
		t.Errorf("attrs = %v", out.Attrs)
	}
	if !out.Grid.Equal(target) {
		t.Error("result is not on the target grid")
	}
}

func TestRegrid_BilinearMatchesPointInterpolation(t *testing.T) {
	g := mustGrid(t, axis(40, 1, 6), axis(0, 1, 6))
	src := makeField(t, g, func(lat, lon float64) float64 { return math.Sin(lat) * math.Cos(lon) })
	target := mustGrid(t, axis(40.3, 0.7, 6), axis(0.2, 0.9, 5))

	out, err := NewEngine().Regrid(src, target, Bilinear)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	ref := &interp.Grid2D{X: g.Lons(), Y: g.Lats(), Values: src.Values}
	for i := 0; i < target.NLat(); i++ {
		for j := 0; j < target.NLon(); j++ {
			want, err := ref.InterpolateAt(target.Lon(j), target.Lat(i))
			if err != nil {
				t.Fatalf("InterpolateAt: %v", err)
			}
			if math.Abs(out.Values[i][j]-want) > 1e-12 {
				t.Errorf("(%d,%d) = %g, want %g", i, j, out.Values[i][j], want)
			}
		}
	}
}

func TestRegrid_OutsideCoverageIsMissing(t *testing.T) {
	src := makeField(t, mustGrid(t, axis(40, 1, 11), axis(0, 1, 11)), func(lat, lon float64) float64 { return 1 })
	target := mustGrid(t, axis(45, 20, 2), axis(5, 20, 2)) // (45,5) inside, (65,25) outside

	for _, m := range Methods() {
		out, err := NewEngine().Regrid(src, target, m)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if m == NearestD2S {
			continue
		}
		if domain.IsMissing(out.Values[0][0]) {
			t.Errorf("%s: inside target is missing", m)
		}
		if !domain.IsMissing(out.Values[1][1]) {
			t.Errorf("%s: outside target = %g, want missing", m, out.Values[1][1])
		}
	}
}

func TestWeights_RowsSumToOne(t *testing.T) {
	src := mustGrid(t, axis(30, 0.5, 40), axis(-10, 0.5, 50))
	target := mustGrid(t, axis(28, 1.5, 16), axis(-12, 1.25, 24))

	for _, m := range Methods() {
		w, err := ComputeWeights(src, target, m)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if err := w.Validate(); err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		for tIdx := 0; tIdx < w.NTarget(); tIdx++ {
			_, vals := w.Row(tIdx)
			if len(vals) == 0 {
				continue
			}
			sum := 0.0
			for _, v := range vals {
				if v <= 0 {
					t.Fatalf("%s: non-positive weight %g", m, v)
				}
				sum += v
			}
			if math.Abs(sum-1) > SumTolerance {
				t.Fatalf("%s: target %d sums to %.15f", m, tIdx, sum)
			}
		}
	}
}

func TestRegrid_ConservativeAreaWeighting(t *testing.T) {
	rad := math.Pi / 180
	for _, lat0 := range []float64{0, 60} {
		// Two 1-degree source rows fall into each 2-degree target row.
		src := mustGrid(t, axis(lat0+0.5, 1, 4), []float64{0.5, 1.5})
		target := mustGrid(t, []float64{lat0 + 1, lat0 + 3}, []float64{1, 3})
		values := [][]float64{{10, 10}, {20, 20}, {10, 10}, {20, 20}}
		f, _ := domain.NewFieldDataset(src, values, "t2m", "K", domain.Provenance{})

		out, err := NewEngine().Regrid(f, target, Conservative)
		if err != nil {
			t.Fatalf("Regrid: %v", err)
		}
		a0 := math.Sin((lat0+1)*rad) - math.Sin(lat0*rad)
		a1 := math.Sin((lat0+2)*rad) - math.Sin((lat0+1)*rad)
		want := (10*a0 + 20*a1) / (a0 + a1)
		if math.Abs(out.Values[0][0]-want) > 1e-12 {
			t.Errorf("lat0=%g: cell = %.12f, want %.12f", lat0, out.Values[0][0], want)
		}
		if out.Values[0][0] >= 15 {
			t.Errorf("lat0=%g: cell = %g, northern row should carry less area", lat0, out.Values[0][0])
		}
		if !domain.IsMissing(out.Values[0][1]) {
			t.Errorf("lat0=%g: target outside the source longitudes = %g, want missing", lat0, out.Values[0][1])
		}
	}
}

// areaIntegral sums value times spherical cell area over a grid of uniform
// spacing whose cell edges sit half a step from the centres.
func areaIntegral(g *domain.GridDefinition, values [][]float64, latStep, lonStep float64) float64 {
	rad := math.Pi / 180
	var sum float64
	for i := 0; i < g.NLat(); i++ {
		band := math.Sin((g.Lat(i)+latStep/2)*rad) - math.Sin((g.Lat(i)-latStep/2)*rad)
		for j := 0; j < g.NLon(); j++ {
			sum += values[i][j] * band * lonStep * rad
		}
	}
	return sum
}

func TestRegrid_ConservativePreservesIntegral(t *testing.T) {
	tests := []struct {
		name             string
		src, tgt         *domain.GridDefinition
		srcStep, tgtStep float64
	}{
		{
			name:    "global 1 to 3 degrees",
			src:     mustGrid(t, axis(-89.5, 1, 180), axis(-179.5, 1, 360)),
			tgt:     mustGrid(t, axis(-88.5, 3, 60), axis(-178.5, 3, 120)),
			srcStep: 1,
			tgtStep: 3,
		},
		{
			name:    "regional quarter to 1 degree",
			src:     mustGrid(t, axis(30.125, 0.25, 168), axis(-24.875, 0.25, 280)),
			tgt:     mustGrid(t, axis(30.5, 1, 42), axis(-24.5, 1, 70)),
			srcStep: 0.25,
			tgtStep: 1,
		},
	}
	rad := math.Pi / 180
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := makeField(t, tt.src, func(lat, lon float64) float64 {
				return 280 + lat/10 + 10*math.Cos(lat*rad)*math.Sin(2*lon*rad)
			})
			out, err := NewEngine().Regrid(f, tt.tgt, Conservative)
			if err != nil {
				t.Fatalf("Regrid: %v", err)
			}
			if n := countMissing(out.Values); n != 0 {
				t.Fatalf("%d target cells missing under full overlap", n)
			}
			want := areaIntegral(tt.src, f.Values, tt.srcStep, tt.srcStep)
			got := areaIntegral(tt.tgt, out.Values, tt.tgtStep, tt.tgtStep)
			if rel := math.Abs(got-want) / math.Abs(want); rel > 1e-10 {
				t.Errorf("integral = %.12f, want %.12f (relative error %g)", got, want, rel)
			}
		})
	}
}

func TestRegrid_IdentityForEveryMethod(t *testing.T) {
	g := mustGrid(t, axis(40, 0.5, 6), axis(-3, 0.5, 8))
	f := makeField(t, g, func(lat, lon float64) float64 { return 270 + lat*lon/7 })
	same := mustGrid(t, axis(40, 0.5, 6), axis(-3, 0.5, 8))

	for _, m := range Methods() {
		t.Run(string(m), func(t *testing.T) {
			out, err := NewEngine().Regrid(f, same, m)
			if err != nil {
				t.Fatalf("Regrid: %v", err)
			}
			w, err := ComputeWeights(g, same, m)
			if err != nil {
				t.Fatalf("ComputeWeights: %v", err)
			}
			applied, err := w.Apply(f.Values, m.renormalizes())
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			for i := range f.Values {
				for j := range f.Values[i] {
					if out.Values[i][j] != f.Values[i][j] {
						t.Fatalf("Regrid changed (%d,%d): %g != %g", i, j, out.Values[i][j], f.Values[i][j])
					}
					if math.Abs(applied[i][j]-f.Values[i][j]) > 1e-9 {
						t.Fatalf("weights changed (%d,%d): %g != %g", i, j, applied[i][j], f.Values[i][j])
					}
				}
			}
		})
	}
}

func TestRegrid_MissingPropagation(t *testing.T) {
	g := mustGrid(t, axis(0, 1, 4), axis(0, 1, 4))
	values := [][]float64{
		{1, 1, 1, 1},
		{1, domain.Missing, 1, 1},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
	}
	f, _ := domain.NewFieldDataset(g, values, "t2m", "K", domain.Provenance{})
	target := mustGrid(t, []float64{0.5, 2.5}, []float64{0.5, 2.5})

	bl, err := NewEngine().Regrid(f, target, Bilinear)
	if err != nil {
		t.Fatalf("bilinear: %v", err)
	}
	if !domain.IsMissing(bl.Values[0][0]) {
		t.Errorf("bilinear target touching a missing source = %g, want missing", bl.Values[0][0])
	}
	if bl.Values[1][1] != 1 {
		t.Errorf("bilinear untouched target = %g, want 1", bl.Values[1][1])
	}

	coarse := mustGrid(t, []float64{1, 3}, []float64{1, 3})
	cons, err := NewEngine().Regrid(f, coarse, Conservative)
	if err != nil {
		t.Fatalf("conservative: %v", err)
	}
	if math.Abs(cons.Values[0][0]-1) > 1e-12 {
		t.Errorf("conservative renormalised value = %g, want 1", cons.Values[0][0])
	}
}

func TestRegrid_NearestD2S(t *testing.T) {
	fine := mustGrid(t, axis(0.25, 0.5, 4), axis(0.25, 0.5, 4))
	f := makeField(t, fine, func(lat, lon float64) float64 { return lat })
	coarse := mustGrid(t, []float64{0.5, 1.5, 5.5}, []float64{0.5, 1.5})

	out, err := NewEngine().Regrid(f, coarse, NearestD2S)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	if math.Abs(out.Values[0][0]-0.5) > 1e-12 {
		t.Errorf("averaged value = %g, want 0.5", out.Values[0][0])
	}
	if math.Abs(out.Values[1][1]-1.5) > 1e-12 {
		t.Errorf("averaged value = %g, want 1.5", out.Values[1][1])
	}
	if !domain.IsMissing(out.Values[2][0]) {
		t.Errorf("target with no source = %g, want missing", out.Values[2][0])
	}
}

func TestRegrid_NearestS2D(t *testing.T) {
	g := mustGrid(t, axis(0, 1, 3), axis(0, 1, 3))
	f := makeField(t, g, func(lat, lon float64) float64 { return 10*lat + lon })
	target := mustGrid(t, []float64{0.2, 1.7}, []float64{1.4, 0.1})

	out, err := NewEngine().Regrid(f, target, NearestS2D)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	want := [][]float64{{1, 0}, {21, 20}}
	for i := range want {
		for j := range want[i] {
			if out.Values[i][j] != want[i][j] {
				t.Errorf("(%d,%d) = %g, want %g", i, j, out.Values[i][j], want[i][j])
			}
		}
	}
}

func TestRegrid_DescendingAndShiftedLongitudes(t *testing.T) {
	fn := func(lat, lon float64) float64 { return lat*2 + math.Cos(lon*math.Pi/180) }
	asc := makeField(t, mustGrid(t, axis(-90, 1, 181), axis(0, 1, 360)), fn)
	desc := makeField(t, mustGrid(t, axis(90, -1, 181), axis(0, 1, 360)), fn)
	target := mustGrid(t, axis(-10.5, 3, 8), axis(-179.5, 20, 18))

	e := NewEngine()
	a, err := e.Regrid(asc, target, Bilinear)
	if err != nil {
		t.Fatalf("ascending: %v", err)
	}
	d, err := e.Regrid(desc, target, Bilinear)
	if err != nil {
		t.Fatalf("descending: %v", err)
	}
	for i := range a.Values {
		for j := range a.Values[i] {
			if domain.IsMissing(a.Values[i][j]) {
				t.Fatalf("(%d,%d) missing on a periodic source", i, j)
			}
			if math.Abs(a.Values[i][j]-d.Values[i][j]) > 1e-9 {
				t.Fatalf("(%d,%d): ascending %g != descending %g", i, j, a.Values[i][j], d.Values[i][j])
			}
		}
	}
}

func TestRegrid_IdenticalGridsShortCircuit(t *testing.T) {
	g := mustGrid(t, axis(0, 1, 3), axis(0, 1, 3))
	f := makeField(t, g, func(lat, lon float64) float64 { return lat + lon })
	same := mustGrid(t, axis(0, 1, 3), axis(0, 1, 3))

	e := NewEngine()
	out, err := e.Regrid(f, same, Conservative)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	for i := range f.Values {
		for j := range f.Values[i] {
			if out.Values[i][j] != f.Values[i][j] {
				t.Fatalf("value changed at (%d,%d)", i, j)
			}
		}
	}
	out.Values[0][0] = -1
	if f.Values[0][0] == -1 {
		t.Error("result shares storage with the source")
	}
	if s := e.Cache().Stats(); s.Entries != 0 || s.Computations != 0 {
		t.Errorf("identical grids touched the cache: %+v", s)
	}
}

func TestRegrid_Errors(t *testing.T) {
	g := mustGrid(t, axis(0, 1, 3), axis(0, 1, 3))
	f := makeField(t, g, func(lat, lon float64) float64 { return 0 })
	e := NewEngine()

	if _, err := e.Regrid(f, g, Method("cubic")); !errors.Is(err, domain.ErrUnsupportedMethod) {
		t.Errorf("unknown method: err = %v", err)
	}
	if _, err := ParseMethod("patch"); !errors.Is(err, domain.ErrUnsupportedMethod) {
		t.Errorf("ParseMethod: err = %v", err)
	}

	far := mustGrid(t, axis(60, 1, 3), axis(100, 1, 3))
	_, err := e.Regrid(f, far, Bilinear)
	if !errors.Is(err, domain.ErrNoOverlap) {
		t.Fatalf("disjoint grids: err = %v, want NoOverlap", err)
	}
	if s := e.Cache().Stats(); s.Entries != 0 {
		t.Errorf("failed computation was cached: %+v", s)
	}

	bad := &domain.FieldDataset{Grid: g, Values: [][]float64{{1}}, Variable: "t2m"}
	if _, err := e.Regrid(bad, far, Bilinear); !errors.Is(err, domain.ErrGridMismatch) {
		t.Errorf("malformed field: err = %v", err)
	}
}

func TestCache_ComputesOncePerKey(t *testing.T) {
	src := globalOneDegree(t)
	target := europeQuarter(t)
	e := NewEngine()

	const workers = 16
	results := make([]*Weights, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := e.Weights(src, target, Bilinear)
			if err != nil {
				t.Errorf("Weights: %v", err)
				return
			}
			results[i] = w
		}()
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("callers received different weight instances")
		}
	}
	s := e.Cache().Stats()
	if s.Computations != 1 || s.Entries != 1 {
		t.Errorf("stats = %+v, want one computation and one entry", s)
	}

	again, err := ComputeWeights(src, target, Bilinear)
	if err != nil {
		t.Fatalf("ComputeWeights: %v", err)
	}
	if len(again.Vals) != len(results[0].Vals) {
		t.Fatal("recomputed weights differ in size")
	}
	for k := range again.Vals {
		if again.Vals[k] != results[0].Vals[k] || again.Cols[k] != results[0].Cols[k] {
			t.Fatalf("recomputed weights differ at entry %d", k)
		}
	}
}

func TestRegridAll_KeepsOrder(t *testing.T) {
	g := mustGrid(t, axis(0, 1, 5), axis(0, 1, 5))
	target := mustGrid(t, axis(0.5, 1, 4), axis(0.5, 1, 4))
	var fields []*domain.FieldDataset
	for k := 0; k < 6; k++ {
		offset := float64(k)
		fields = append(fields, makeField(t, g, func(lat, lon float64) float64 { return offset }))
	}

	out, err := NewEngine(WithParallelism(3)).RegridAll(context.Background(), fields, target, Bilinear)
	if err != nil {
		t.Fatalf("RegridAll: %v", err)
	}
	for k, f := range out {
		if f.Values[0][0] != float64(k) {
			t.Errorf("result %d = %g, want %d", k, f.Values[0][0], k)
		}
	}
}
