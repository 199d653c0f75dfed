// Package field reads and writes FieldDatasets as CF-style NetCDF files.
package field

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/wxgrid/internal/domain"
)

// Global attribute names written alongside the data.
const (
	attrVariable     = "variable"
	attrSource       = "source"
	attrRunTime      = "run_time"
	attrForecastHour = "forecast_hour"
	attrRegion       = "region"
	attrConvention   = "grid_convention"
)

var reservedAttrs = map[string]bool{
	attrVariable: true, attrSource: true, attrRunTime: true,
	attrForecastHour: true, attrRegion: true, attrConvention: true,
}

// Store reads and writes field files. Grids read through ReadGrid are
// cached by path.
type Store struct {
	cache map[string]*domain.GridDefinition
	mu    sync.RWMutex
}

// NewStore creates a field store.
func NewStore() *Store {
	return &Store{cache: make(map[string]*domain.GridDefinition)}
}

// ReadField loads variable from path. An empty variable selects the one
// named by the file's "variable" attribute.
func (s *Store) ReadField(path, variable string) (*domain.FieldDataset, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	if variable == "" {
		variable = readText(nc.Attr(attrVariable))
		if variable == "" {
			return nil, fmt.Errorf("%s: no variable given and no %q attribute", path, attrVariable)
		}
	}

	plane, err := Decode(nc, Selection{Variable: variable, Verbatim: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	conv, err := domain.ParseConvention(readText(nc.Attr(attrConvention)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	grid, err := domain.NewGrid(plane.Lats, plane.Lons, conv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	prov := domain.Provenance{
		Source: readText(nc.Attr(attrSource)),
		Region: readText(nc.Attr(attrRegion)),
	}
	if prov.Source == "" {
		prov.Source = filepath.Base(path)
	}
	if rt := readText(nc.Attr(attrRunTime)); rt != "" {
		if t, err := time.Parse(time.RFC3339, rt); err == nil {
			prov.RunTime = t
		}
	}
	if fh := readText(nc.Attr(attrForecastHour)); fh != "" {
		if n, err := strconv.Atoi(fh); err == nil {
			prov.ForecastHour = n
		}
	}

	f, err := domain.NewFieldDataset(grid, plane.Values, variable, plane.Unit, prov)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, name := range []string{"regrid_method", "regrid_source_shape", "regrid_target_shape"} {
		if v := readText(nc.Attr(name)); v != "" {
			f.Attrs[name] = v
		}
	}
	if plane.LongName != "" {
		f.Attrs["long_name"] = plane.LongName
	}
	return f, nil
}

// ReadGrid returns the grid of the file at path.
func (s *Store) ReadGrid(path string) (*domain.GridDefinition, error) {
	s.mu.RLock()
	g, ok := s.cache[path]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	lats, err := readCoord(nc, "", LatNames)
	if err != nil {
		return nil, fmt.Errorf("%s: latitude: %w", path, err)
	}
	lons, err := readCoord(nc, "", LonNames)
	if err != nil {
		return nil, fmt.Errorf("%s: longitude: %w", path, err)
	}
	conv, err := domain.ParseConvention(readText(nc.Attr(attrConvention)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g, err = domain.NewGrid(lats, lons, conv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s.mu.Lock()
	s.cache[path] = g
	s.mu.Unlock()
	return g, nil
}

// WriteField writes f to path, creating parent directories. Missing values
// are stored as NaN, which is also the declared _FillValue.
func (s *Store) WriteField(path string, f *domain.FieldDataset) (err error) {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	s.mu.Lock()
	delete(s.cache, path)
	s.mu.Unlock()

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file %s: %w", path, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	nLat, nLon := f.Grid.Shape()
	latDim, err := ds.AddDim("lat", uint64(nLat))
	if err != nil {
		return fmt.Errorf("add dim lat: %w", err)
	}
	lonDim, err := ds.AddDim("lon", uint64(nLon))
	if err != nil {
		return fmt.Errorf("add dim lon: %w", err)
	}
	latVar, err := ds.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return fmt.Errorf("add var lat: %w", err)
	}
	lonVar, err := ds.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return fmt.Errorf("add var lon: %w", err)
	}
	dataVar, err := ds.AddVar(f.Variable, netcdf.DOUBLE, []netcdf.Dim{latDim, lonDim})
	if err != nil {
		return fmt.Errorf("add var %s: %w", f.Variable, err)
	}

	if err := latVar.Attr("units").WriteBytes([]byte("degrees_north")); err != nil {
		return fmt.Errorf("write lat units: %w", err)
	}
	if err := lonVar.Attr("units").WriteBytes([]byte("degrees_east")); err != nil {
		return fmt.Errorf("write lon units: %w", err)
	}
	if err := dataVar.Attr("_FillValue").WriteFloat64s([]float64{math.NaN()}); err != nil {
		return fmt.Errorf("write _FillValue: %w", err)
	}
	unit := f.Unit
	if unit == "" {
		unit = "unknown"
	}
	if err := dataVar.Attr("units").WriteBytes([]byte(unit)); err != nil {
		return fmt.Errorf("write units: %w", err)
	}
	if ln := f.Attrs["long_name"]; ln != "" {
		if err := dataVar.Attr("long_name").WriteBytes([]byte(ln)); err != nil {
			return fmt.Errorf("write long_name: %w", err)
		}
	}

	global := map[string]string{
		attrVariable:     f.Variable,
		attrSource:       f.Provenance.Source,
		attrForecastHour: strconv.Itoa(f.Provenance.ForecastHour),
		attrRegion:       f.Provenance.Region,
		attrConvention:   f.Grid.Convention().String(),
	}
	if !f.Provenance.RunTime.IsZero() {
		global[attrRunTime] = f.Provenance.RunTime.UTC().Format(time.RFC3339)
	}
	for k, v := range f.Attrs {
		if !reservedAttrs[k] && k != "long_name" {
			global[k] = v
		}
	}
	keys := make([]string, 0, len(global))
	for k := range global {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if global[k] == "" {
			continue
		}
		if err := ds.Attr(k).WriteBytes([]byte(global[k])); err != nil {
			return fmt.Errorf("write attribute %s: %w", k, err)
		}
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("end define mode: %w", err)
	}

	if err := latVar.WriteFloat64s(f.Grid.Lats()); err != nil {
		return fmt.Errorf("write lat: %w", err)
	}
	if err := lonVar.WriteFloat64s(f.Grid.Lons()); err != nil {
		return fmt.Errorf("write lon: %w", err)
	}
	flat := make([]float64, 0, nLat*nLon)
	for _, row := range f.Values {
		flat = append(flat, row...)
	}
	if err := dataVar.WriteFloat64s(flat); err != nil {
		return fmt.Errorf("write %s: %w", f.Variable, err)
	}
	return nil
}
