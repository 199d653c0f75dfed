package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/wxgrid/internal/adapter/store/field"
	"go.ngs.io/wxgrid/internal/domain"
)

// maxChunkFetches bounds concurrent chunk downloads per array.
const maxChunkFetches = 8

// Zarr reads fields from a zarr v2 store served over HTTP. Coordinates must
// be 1-D latitude and longitude arrays at the store root.
type Zarr struct {
	*base
	circuit *gobreaker.CircuitBreaker
}

func newZarr(b *base) *Zarr {
	return &Zarr{base: b, circuit: newBreaker(b.name)}
}

// Open reads the requested forecast hour of a variable over the requested
// region.
func (p *Zarr) Open(ctx context.Context, req Request) (*domain.FieldDataset, error) {
	providerVar, rt, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	root := strings.TrimRight(p.url(rt), "/")
	log.Info().Str("provider", p.name).Str("url", root).Str("variable", providerVar).
		Int("forecast_hour", req.ForecastHour).Msg("opening zarr store")

	plane, err := p.readPlane(ctx, root, providerVar, req.ForecastHour)
	if err != nil {
		return nil, p.wrap(err, root)
	}
	var bounds *domain.Bounds
	if req.Region != nil {
		b := req.Region.Bounds
		bounds = &b
	}
	if err := plane.Prepare(bounds); err != nil {
		return nil, err
	}

	f, err := p.toField(plane, req, rt, providerVar)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", p.name).Str("grid", f.Grid.Describe()).Msg("dataset opened")
	return f, nil
}

func (p *Zarr) readPlane(ctx context.Context, root, variable string, forecastHour int) (*field.Plane, error) {
	latName, lonName := p.cfg.LatName, p.cfg.LonName
	if latName == "" {
		latName = "latitude"
	}
	if lonName == "" {
		lonName = "longitude"
	}
	lats, _, err := p.readArray(ctx, root+"/"+latName, nil)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lons, _, err := p.readArray(ctx, root+"/"+lonName, nil)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}

	path := root + "/" + variable
	meta, attrs, err := p.metadata(ctx, path)
	if err != nil {
		return nil, err
	}
	nd := len(meta.Shape)
	if nd < 2 {
		return nil, fmt.Errorf("expected at least 2D data, got %dD", nd)
	}
	if meta.Shape[nd-2] != len(lats) || meta.Shape[nd-1] != len(lons) {
		return nil, fmt.Errorf("dimension mismatch: data ends in [%d, %d], expected [%d, %d]",
			meta.Shape[nd-2], meta.Shape[nd-1], len(lats), len(lons))
	}
	lead := make([]int, nd-2)
	if nd > 2 {
		step := p.cfg.TimeStepHours
		if step <= 0 {
			step = 1
		}
		t := forecastHour / step
		if t >= meta.Shape[0] {
			return nil, domain.NewError(domain.ErrProvider, "forecast hour %d beyond the %d steps of %s",
				forecastHour, meta.Shape[0], variable)
		}
		lead[0] = t
	}

	flat, err := p.readChunks(ctx, path, meta, lead)
	if err != nil {
		return nil, err
	}
	applyAttrPacking(flat, attrs)

	values := make([][]float64, len(lats))
	for i := range values {
		values[i] = flat[i*len(lons) : (i+1)*len(lons)]
	}
	return &field.Plane{
		Lats:     lats,
		Lons:     lons,
		Values:   values,
		Unit:     attrs.Units,
		LongName: attrs.LongName,
	}, nil
}

// readArray reads a whole 1-D array, or the trailing plane of an
// N-D array at the given leading indices.
func (p *Zarr) readArray(ctx context.Context, path string, lead []int) ([]float64, *arrayMeta, error) {
	meta, attrs, err := p.metadata(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if len(meta.Shape) == 1 && len(lead) > 0 {
		return nil, nil, fmt.Errorf("%s is 1-D", path)
	}
	if len(meta.Shape) > 1 && len(lead) != len(meta.Shape)-2 {
		return nil, nil, fmt.Errorf("%s: expected %d leading indices, got %d", path, len(meta.Shape)-2, len(lead))
	}
	vals, err := p.readChunks(ctx, path, meta, lead)
	if err != nil {
		return nil, nil, err
	}
	applyAttrPacking(vals, attrs)
	return vals, meta, nil
}

func (p *Zarr) metadata(ctx context.Context, path string) (*arrayMeta, *arrayAttrs, error) {
	raw, err := fetch(ctx, p.client, p.backoff, p.circuit, path+"/.zarray")
	if err != nil {
		return nil, nil, err
	}
	meta, err := parseArrayMeta(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s/.zarray: %w", path, err)
	}
	attrs := &arrayAttrs{}
	rawAttrs, err := fetch(ctx, p.client, p.backoff, p.circuit, path+"/.zattrs")
	switch {
	case err == nil:
		if err := json.Unmarshal(rawAttrs, attrs); err != nil {
			return nil, nil, fmt.Errorf("%s/.zattrs: %w", path, err)
		}
	case !errors.Is(err, errNotFound):
		return nil, nil, err
	}
	return meta, attrs, nil
}

// readChunks assembles the trailing 1-D or 2-D section of an array.
// Chunks absent from the store hold the fill value.
func (p *Zarr) readChunks(ctx context.Context, path string, m *arrayMeta, lead []int) ([]float64, error) {
	nd := len(m.Shape)
	rowDim, colDim := nd-2, nd-1
	rows, chunkRows := 1, 1
	if rowDim >= 0 {
		rows, chunkRows = m.Shape[rowDim], m.Chunks[rowDim]
	}
	cols, chunkCols := m.Shape[colDim], m.Chunks[colDim]

	strides := make([]int, nd)
	strides[nd-1] = 1
	for d := nd - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * m.Chunks[d+1]
	}
	offset := 0
	prefix := make([]string, 0, nd)
	for d, idx := range lead {
		if idx < 0 || idx >= m.Shape[d] {
			return nil, fmt.Errorf("index %d outside dimension %d of size %d", idx, d, m.Shape[d])
		}
		prefix = append(prefix, strconv.Itoa(idx/m.Chunks[d]))
		offset += (idx % m.Chunks[d]) * strides[d]
	}
	rowStride := 0
	if rowDim >= 0 {
		rowStride = strides[rowDim]
	}

	out := make([]float64, rows*cols)
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxChunkFetches)
	for cr := 0; cr*chunkRows < rows; cr++ {
		for cc := 0; cc*chunkCols < cols; cc++ {
			key := append(append([]string(nil), prefix...), strconv.Itoa(cc))
			if rowDim >= 0 {
				key = append(append(append([]string(nil), prefix...), strconv.Itoa(cr)), strconv.Itoa(cc))
			}
			url := path + "/" + strings.Join(key, m.separator())
			g.Go(func() error {
				chunk, err := p.chunk(ctx, url, m)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for i := 0; i < chunkRows && cr*chunkRows+i < rows; i++ {
					r := cr*chunkRows + i
					for j := 0; j < chunkCols && cc*chunkCols+j < cols; j++ {
						c := cc*chunkCols + j
						if chunk == nil {
							out[r*cols+c] = domain.Missing
							continue
						}
						out[r*cols+c] = chunk[offset+i*rowStride+j]
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunk downloads and decodes one chunk; a missing chunk returns nil.
func (p *Zarr) chunk(ctx context.Context, url string, m *arrayMeta) ([]float64, error) {
	raw, err := fetch(ctx, p.client, p.backoff, p.circuit, url)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := decompress(m.compressorID(), raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	vals, err := m.dtype.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	if want := m.chunkLen(); len(vals) != want {
		return nil, fmt.Errorf("%s: chunk holds %d values, expected %d", url, len(vals), want)
	}
	if m.fill != nil {
		for i, v := range vals {
			if v == *m.fill || (math.IsNaN(*m.fill) && math.IsNaN(v)) {
				vals[i] = domain.Missing
			}
		}
	}
	return vals, nil
}

// arrayAttrs are the CF attributes read from .zattrs.
type arrayAttrs struct {
	Units       string   `json:"units"`
	LongName    string   `json:"long_name"`
	ScaleFactor *float64 `json:"scale_factor"`
	AddOffset   *float64 `json:"add_offset"`
}

func applyAttrPacking(vals []float64, a *arrayAttrs) {
	if a == nil || (a.ScaleFactor == nil && a.AddOffset == nil) {
		return
	}
	for i, v := range vals {
		if domain.IsMissing(v) {
			continue
		}
		if a.ScaleFactor != nil && *a.ScaleFactor != 0 {
			v *= *a.ScaleFactor
		}
		if a.AddOffset != nil {
			v += *a.AddOffset
		}
		vals[i] = v
	}
}
