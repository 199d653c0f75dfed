// Package weights persists regrid weight sets as NetCDF files laid out like
// ESMF weight files: 1-based row/col index variables plus the S weights.
package weights

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/wxgrid/internal/regrid"
)

// Store reads and writes weight files under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on first
// save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func digest(key regrid.Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:6])
}

// FileName is the file a weight set is stored under:
// weights_<method>_<srcshape>_to_<tgtshape>_<digest>.nc.
func FileName(w *regrid.Weights) string {
	return fmt.Sprintf("weights_%s_%dx%d_to_%dx%d_%s.nc", w.Key.Method,
		w.SourceShape[0], w.SourceShape[1], w.TargetShape[0], w.TargetShape[1], digest(w.Key))
}

func (s *Store) find(key regrid.Key) (string, error) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("weights_%s_*_%s.nc", key.Method, digest(key)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

// Load returns the weights stored under key, or (nil, nil) when no file
// exists or the file belongs to a different grid pair.
func (s *Store) Load(key regrid.Key) (*regrid.Weights, error) {
	path, err := s.find(key)
	if err != nil || path == "" {
		return nil, err
	}

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open weight file %s: %w", path, err)
	}
	defer nc.Close()

	src, err := readText(nc.Attr("source_grid"))
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	tgt, err := readText(nc.Attr("target_grid"))
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	if src != key.Source || tgt != key.Target {
		return nil, nil
	}

	srcShape, err := readShape(nc.Attr("src_grid_dims"))
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	dstShape, err := readShape(nc.Attr("dst_grid_dims"))
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}

	rows, err := readInt32Var(nc, "row")
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	cols, err := readInt32Var(nc, "col")
	if err != nil {
		return nil, fmt.Errorf("weight file %s: %w", path, err)
	}
	sv, err := nc.Var("S")
	if err != nil {
		return nil, fmt.Errorf("weight file %s: variable S: %w", path, err)
	}
	vals := make([]float64, len(rows))
	if err := sv.ReadFloat64s(vals); err != nil {
		return nil, fmt.Errorf("weight file %s: read S: %w", path, err)
	}
	if len(cols) != len(rows) {
		return nil, fmt.Errorf("weight file %s: row/col length mismatch", path)
	}

	w := &regrid.Weights{
		Key:         key,
		SourceShape: srcShape,
		TargetShape: dstShape,
		Offsets:     make([]int, dstShape[0]*dstShape[1]+1),
		Cols:        make([]int, len(cols)),
		Vals:        vals,
	}
	for k := range rows {
		r := int(rows[k]) - 1
		if r < 0 || r >= w.NTarget() || (k > 0 && rows[k] < rows[k-1]) {
			return nil, fmt.Errorf("weight file %s: bad row index %d at entry %d", path, rows[k], k)
		}
		w.Offsets[r+1]++
		w.Cols[k] = int(cols[k]) - 1
	}
	for t := 1; t < len(w.Offsets); t++ {
		w.Offsets[t] += w.Offsets[t-1]
	}
	return w, nil
}

// Save writes w atomically: a temporary file in the store directory is
// renamed into place once complete.
func (s *Store) Save(w *regrid.Weights) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create weight directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".weights-*.nc")
	if err != nil {
		return fmt.Errorf("failed to create temp weight file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeWeights(tmpPath, w); err != nil {
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.dir, FileName(w)))
}

// closeDataset flushes and closes a weight file being written.
var closeDataset = func(ds netcdf.Dataset) error { return ds.Close() }

func writeWeights(path string, w *regrid.Weights) (err error) {
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create weight file: %w", err)
	}
	defer func() {
		if cerr := closeDataset(ds); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close weight file: %w", cerr)
		}
	}()

	nS, err := ds.AddDim("n_s", uint64(len(w.Vals)))
	if err != nil {
		return fmt.Errorf("add dim n_s: %w", err)
	}
	rowVar, err := ds.AddVar("row", netcdf.INT, []netcdf.Dim{nS})
	if err != nil {
		return fmt.Errorf("add var row: %w", err)
	}
	colVar, err := ds.AddVar("col", netcdf.INT, []netcdf.Dim{nS})
	if err != nil {
		return fmt.Errorf("add var col: %w", err)
	}
	sVar, err := ds.AddVar("S", netcdf.DOUBLE, []netcdf.Dim{nS})
	if err != nil {
		return fmt.Errorf("add var S: %w", err)
	}

	attrs := []struct {
		name string
		text string
	}{
		{"title", "wxgrid regrid weights"},
		{"map_method", string(w.Key.Method)},
		{"source_grid", w.Key.Source},
		{"target_grid", w.Key.Target},
	}
	for _, a := range attrs {
		if err := ds.Attr(a.name).WriteBytes([]byte(a.text)); err != nil {
			return fmt.Errorf("write attribute %s: %w", a.name, err)
		}
	}
	ints := []struct {
		name string
		vals []int32
	}{
		{"n_a", []int32{int32(w.NSource())}},
		{"n_b", []int32{int32(w.NTarget())}},
		{"src_grid_dims", []int32{int32(w.SourceShape[0]), int32(w.SourceShape[1])}},
		{"dst_grid_dims", []int32{int32(w.TargetShape[0]), int32(w.TargetShape[1])}},
	}
	for _, a := range ints {
		if err := ds.Attr(a.name).WriteInt32s(a.vals); err != nil {
			return fmt.Errorf("write attribute %s: %w", a.name, err)
		}
	}

	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("end define mode: %w", err)
	}

	rows := make([]int32, len(w.Vals))
	cols := make([]int32, len(w.Vals))
	for t := 0; t < w.NTarget(); t++ {
		for k := w.Offsets[t]; k < w.Offsets[t+1]; k++ {
			rows[k] = int32(t + 1)
			cols[k] = int32(w.Cols[k] + 1)
		}
	}
	if err := rowVar.WriteInt32s(rows); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := colVar.WriteInt32s(cols); err != nil {
		return fmt.Errorf("write col: %w", err)
	}
	if err := sVar.WriteFloat64s(w.Vals); err != nil {
		return fmt.Errorf("write S: %w", err)
	}
	return nil
}

func readText(a netcdf.Attr) (string, error) {
	n, err := a.Len()
	if err != nil {
		return "", fmt.Errorf("attribute %s: %w", a.Name(), err)
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", fmt.Errorf("attribute %s: %w", a.Name(), err)
	}
	return string(buf), nil
}

func readShape(a netcdf.Attr) ([2]int, error) {
	vals := make([]int32, 2)
	if err := a.ReadInt32s(vals); err != nil {
		return [2]int{}, fmt.Errorf("attribute %s: %w", a.Name(), err)
	}
	return [2]int{int(vals[0]), int(vals[1])}, nil
}

func readInt32Var(nc netcdf.Dataset, name string) ([]int32, error) {
	v, err := nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	n, err := v.Len()
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	out := make([]int32, n)
	if err := v.ReadInt32s(out); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}
