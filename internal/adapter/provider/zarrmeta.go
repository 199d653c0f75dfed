package provider

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// arrayMeta is the subset of a zarr v2 .zarray document wxgrid reads.
type arrayMeta struct {
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *codecConfig    `json:"compressor"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            []codecConfig   `json:"filters"`
	ZarrFormat         int             `json:"zarr_format"`
	DimensionSeparator string          `json:"dimension_separator"`

	dtype dtype
	fill  *float64
}

type codecConfig struct {
	ID string `json:"id"`
}

func parseArrayMeta(raw []byte) (*arrayMeta, error) {
	m := &arrayMeta{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	if m.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr format %d", m.ZarrFormat)
	}
	if len(m.Shape) == 0 || len(m.Shape) != len(m.Chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v disagree", m.Shape, m.Chunks)
	}
	for d, c := range m.Chunks {
		if c <= 0 {
			return nil, fmt.Errorf("invalid chunk size %d on dimension %d", c, d)
		}
	}
	if m.Order != "" && m.Order != "C" {
		return nil, fmt.Errorf("unsupported order %q", m.Order)
	}
	if len(m.Filters) > 0 {
		return nil, fmt.Errorf("unsupported filters %v", m.Filters)
	}
	dt, err := parseDType(m.DType)
	if err != nil {
		return nil, err
	}
	m.dtype = dt
	fill, err := parseFill(m.FillValue)
	if err != nil {
		return nil, err
	}
	m.fill = fill
	return m, nil
}

func (m *arrayMeta) separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

func (m *arrayMeta) compressorID() string {
	if m.Compressor == nil {
		return ""
	}
	return m.Compressor.ID
}

func (m *arrayMeta) chunkLen() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// parseFill reads fill_value, which is null, a number or one of the
// strings "NaN", "Infinity" and "-Infinity".
func parseFill(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var v float64
		switch s {
		case "NaN":
			v = math.NaN()
		case "Infinity":
			v = math.Inf(1)
		case "-Infinity":
			v = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill_value %q", s)
		}
		return &v, nil
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid fill_value %s: %w", raw, err)
	}
	return &v, nil
}

// dtype is a numpy type string such as "<f4".
type dtype struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseDType(s string) (dtype, error) {
	if len(s) < 3 {
		return dtype{}, fmt.Errorf("invalid dtype %q", s)
	}
	dt := dtype{kind: s[1]}
	switch s[0] {
	case '<', '|':
		dt.order = binary.LittleEndian
	case '>':
		dt.order = binary.BigEndian
	default:
		return dtype{}, fmt.Errorf("invalid dtype byte order in %q", s)
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return dtype{}, fmt.Errorf("invalid dtype size in %q", s)
	}
	dt.size = size
	switch {
	case dt.kind == 'f' && (size == 4 || size == 8):
	case (dt.kind == 'i' || dt.kind == 'u') && (size == 1 || size == 2 || size == 4 || size == 8):
	default:
		return dtype{}, fmt.Errorf("unsupported dtype %q", s)
	}
	return dt, nil
}

func (dt dtype) decode(b []byte) ([]float64, error) {
	if len(b)%dt.size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of the element size %d", len(b), dt.size)
	}
	out := make([]float64, len(b)/dt.size)
	for i := range out {
		e := b[i*dt.size : (i+1)*dt.size]
		switch {
		case dt.kind == 'f' && dt.size == 4:
			out[i] = float64(math.Float32frombits(dt.order.Uint32(e)))
		case dt.kind == 'f':
			out[i] = math.Float64frombits(dt.order.Uint64(e))
		case dt.size == 1 && dt.kind == 'i':
			out[i] = float64(int8(e[0]))
		case dt.size == 1:
			out[i] = float64(e[0])
		case dt.size == 2 && dt.kind == 'i':
			out[i] = float64(int16(dt.order.Uint16(e)))
		case dt.size == 2:
			out[i] = float64(dt.order.Uint16(e))
		case dt.size == 4 && dt.kind == 'i':
			out[i] = float64(int32(dt.order.Uint32(e)))
		case dt.size == 4:
			out[i] = float64(dt.order.Uint32(e))
		case dt.kind == 'i':
			out[i] = float64(int64(dt.order.Uint64(e)))
		default:
			out[i] = float64(dt.order.Uint64(e))
		}
	}
	return out, nil
}

func decompress(id string, raw []byte) ([]byte, error) {
	switch id {
	case "":
		return raw, nil
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compressor %q", id)
	}
}
