package provider

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/sony/gobreaker"

	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/domain"
)

// createGFSLikeNC writes a 3-step time series on a 0..360 grid with
// descending latitudes, as served by NOMADS.
func createGFSLikeNC(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer f.Close()

	timeDim, _ := f.AddDim("time", 3)
	latDim, _ := f.AddDim("lat", 3)
	lonDim, _ := f.AddDim("lon", 4)
	vlat, _ := f.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	vt, _ := f.AddVar("tmp2m", netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})
	if err := vt.Attr("units").WriteBytes([]byte("K")); err != nil {
		t.Fatalf("write units: %v", err)
	}
	if err := vt.Attr("missing_value").WriteFloat32s([]float32{9.999e20}); err != nil {
		t.Fatalf("write missing_value: %v", err)
	}
	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}

	if err := vlat.WriteFloat64s([]float64{60, 50, 40}); err != nil {
		t.Fatalf("write lat: %v", err)
	}
	if err := vlon.WriteFloat64s([]float64{0, 90, 180, 270}); err != nil {
		t.Fatalf("write lon: %v", err)
	}
	data := make([]float32, 3*3*4)
	for k := 0; k < 3; k++ {
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				data[(k*3+i)*4+j] = float32(100*k + 10*i + j)
			}
		}
	}
	data[(1*3+0)*4+1] = 9.999e20
	if err := vt.WriteFloat32s(data); err != nil {
		t.Fatalf("write tmp2m: %v", err)
	}
}

func TestOpenDAP_LocalFile(t *testing.T) {
	dir := t.TempDir()
	createGFSLikeNC(t, filepath.Join(dir, "gfs20240115_12.nc"))

	cfg := config.ProviderConfig{
		Type:          "opendap",
		BaseURL:       filepath.Join(dir, "gfs{date}_{cycle}.nc"),
		Variables:     map[string]string{"t2m": "tmp2m"},
		Cycles:        []string{"00", "12"},
		TimeStepHours: 6,
	}
	p, err := New("gfs_opendap", cfg, Options{CanonicalUnits: map[string]string{"t2m": "K"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	f, err := p.Open(context.Background(), Request{Variable: "t2m", ForecastHour: 6, RunTime: rt})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if f.Variable != "t2m" || f.Unit != "K" {
		t.Errorf("variable/unit = %s/%s", f.Variable, f.Unit)
	}
	if f.Provenance.Source != "gfs_opendap" || f.Provenance.ForecastHour != 6 || !f.Provenance.RunTime.Equal(rt) {
		t.Errorf("provenance = %+v", f.Provenance)
	}
	if f.Attrs["provider_variable"] != "tmp2m" {
		t.Errorf("provider_variable attr = %q", f.Attrs["provider_variable"])
	}
	lats, lons := f.Grid.Lats(), f.Grid.Lons()
	if lats[0] != 40 || lats[2] != 60 {
		t.Errorf("lats = %v, want ascending", lats)
	}
	if lons[0] != -180 || lons[3] != 90 {
		t.Errorf("lons = %v, want -180..90", lons)
	}
	// Time step 1, source row lat=40 (index 2), source lon 180 (index 2).
	if got := f.Values[0][0]; got != 122 {
		t.Errorf("value at (40, -180) = %g, want 122", got)
	}
	// Source (lat 60, lon 90) was the missing value.
	if got := f.Values[2][3]; !math.IsNaN(got) {
		t.Errorf("value at (60, 90) = %g, want missing", got)
	}
}

func TestOpenDAP_Region(t *testing.T) {
	dir := t.TempDir()
	createGFSLikeNC(t, filepath.Join(dir, "gfs20240115_12.nc"))
	cfg := config.ProviderConfig{
		Type:      "opendap",
		BaseURL:   filepath.Join(dir, "gfs{date}_{cycle}.nc"),
		Variables: map[string]string{"t2m": "tmp2m"},
	}
	p, err := New("gfs_opendap", cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	region := &domain.Region{Name: "box", Bounds: domain.Bounds{LatMin: 58, LatMax: 60, LonMin: -10, LonMax: 10}}
	f, err := p.Open(context.Background(), Request{
		Variable: "t2m",
		RunTime:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Region:   region,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.Provenance.Region != "box" {
		t.Errorf("region = %q", f.Provenance.Region)
	}
	lats, lons := f.Grid.Lats(), f.Grid.Lons()
	if len(lats) != 2 || lats[0] != 50 || lats[1] != 60 {
		t.Errorf("lats = %v, want [50 60]", lats)
	}
	if len(lons) != 3 || lons[0] != -90 || lons[2] != 90 {
		t.Errorf("lons = %v, want [-90 0 90]", lons)
	}
}

func TestOpenDAP_UnavailableRun(t *testing.T) {
	cfg := config.ProviderConfig{
		Type:       "opendap",
		BaseURL:    filepath.Join(t.TempDir(), "gfs{date}_{cycle}.nc"),
		Variables:  map[string]string{"t2m": "tmp2m"},
		MaxRetries: 3,
	}
	p, err := New("gfs_opendap", cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 8; i++ {
		_, err = p.Open(context.Background(), Request{
			Variable: "t2m",
			RunTime:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		})
		if !errors.Is(err, domain.ErrProvider) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("missing runs were retried (took %v)", elapsed)
	}
	if state := p.(*OpenDAP).circuit.State(); state != gobreaker.StateClosed {
		t.Errorf("breaker state = %v after missing runs, want closed", state)
	}
}
