package regrid

import (
	"fmt"
	"math"

	"go.ngs.io/wxgrid/internal/adapter/interp"
	"go.ngs.io/wxgrid/internal/domain"
)

// gridAxes holds the ascending views of a grid's axes plus cell centres in
// original index order.
type gridAxes struct {
	lat, lon         *interp.Axis
	latCens, lonCens []float64
}

func newGridAxes(g *domain.GridDefinition) gridAxes {
	edge := g.Convention() == domain.CellEdge
	ga := gridAxes{
		lat: interp.NewAxis(g.Lats(), edge, false),
		lon: interp.NewAxis(g.Lons(), edge, true),
	}
	ga.latCens = centresByIndex(ga.lat)
	ga.lonCens = centresByIndex(ga.lon)
	return ga
}

func centresByIndex(a *interp.Axis) []float64 {
	out := make([]float64, a.Len())
	for k := 0; k < a.Len(); k++ {
		out[a.Index(k)] = a.Center(k)
	}
	return out
}

// ComputeWeights builds the weight set mapping src onto tgt. It fails with
// NoOverlapError when no target cell receives a contributor.
func ComputeWeights(src, tgt *domain.GridDefinition, m Method) (*Weights, error) {
	if !m.Valid() {
		return nil, domain.NewError(domain.ErrUnsupportedMethod, "%q", m)
	}
	s, t := newGridAxes(src), newGridAxes(tgt)
	b := newBuilder(NewKey(src, tgt, m), src, tgt)

	switch m {
	case Bilinear:
		bilinearRows(b, s, t)
	case NearestS2D:
		nearestS2DRows(b, s, t)
	case NearestD2S:
		nearestD2SRows(b, s, t)
	case Conservative:
		conservativeRows(b, s, t)
	}

	w := b.weights()
	if w.Covered() == 0 {
		return nil, domain.NewError(domain.ErrNoOverlap, "source %s and target %s share no cells (%s)",
			src.Describe(), tgt.Describe(), m)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("computed invalid weights: %w", err)
	}
	return w, nil
}

func bilinearRows(b *builder, s, t gridAxes) {
	nLonS := len(s.lonCens)
	unit := interp.GridCell{X0: 0, X1: 1, Y0: 0, Y1: 1}
	row := make([]entry, 0, 4)
	for i := range t.latCens {
		a0, a1, u, latOK := s.lat.Bracket(t.latCens[i])
		for j := range t.lonCens {
			row = row[:0]
			b0, b1, tt, lonOK := s.lon.Bracket(t.lonCens[j])
			if latOK && lonOK {
				c, err := interp.Coefficients(unit, tt, u)
				if err == nil {
					i0, i1 := s.lat.Index(a0), s.lat.Index(a1)
					j0, j1 := s.lon.Index(b0), s.lon.Index(b1)
					row = append(row,
						entry{i0*nLonS + j0, c[0]},
						entry{i0*nLonS + j1, c[1]},
						entry{i1*nLonS + j0, c[2]},
						entry{i1*nLonS + j1, c[3]},
					)
				}
			}
			b.addRow(row)
		}
	}
}

func nearestS2DRows(b *builder, s, t gridAxes) {
	nLonS := len(s.lonCens)
	row := make([]entry, 0, 1)
	for i := range t.latCens {
		a, latOK := s.lat.Locate(t.latCens[i])
		for j := range t.lonCens {
			row = row[:0]
			if k, lonOK := s.lon.Locate(t.lonCens[j]); latOK && lonOK {
				row = append(row, entry{s.lat.Index(a)*nLonS + s.lon.Index(k), 1})
			}
			b.addRow(row)
		}
	}
}

// nearestD2SRows assigns every source centre to the target cell containing
// it. Targets receiving several sources average them.
func nearestD2SRows(b *builder, s, t gridAxes) {
	nLonS, nLonT := len(s.lonCens), len(t.lonCens)
	contrib := make([][]int, len(t.latCens)*nLonT)

	latTarget := make([]int, len(s.latCens))
	for i, lat := range s.latCens {
		latTarget[i] = -1
		if k, ok := t.lat.Locate(lat); ok {
			latTarget[i] = t.lat.Index(k)
		}
	}
	lonTarget := make([]int, nLonS)
	for j, lon := range s.lonCens {
		lonTarget[j] = -1
		if k, ok := t.lon.Locate(lon); ok {
			lonTarget[j] = t.lon.Index(k)
		}
	}

	for i := range s.latCens {
		ti := latTarget[i]
		if ti < 0 {
			continue
		}
		for j := range s.lonCens {
			tj := lonTarget[j]
			if tj < 0 {
				continue
			}
			tIdx := ti*nLonT + tj
			contrib[tIdx] = append(contrib[tIdx], i*nLonS+j)
		}
	}

	for _, cols := range contrib {
		row := make([]entry, len(cols))
		for k, c := range cols {
			row[k] = entry{c, 1}
		}
		b.addRow(row)
	}
}

type axisShare struct {
	idx  int
	size float64
}

// conservativeRows weights each source cell by its spherical overlap area
// with the target cell: (sin lat1 - sin lat0) * (lon1 - lon0).
func conservativeRows(b *builder, s, t gridAxes) {
	nLonS := len(s.lonCens)

	latShares := make([][]axisShare, len(t.latCens))
	for k := 0; k < t.lat.Len(); k++ {
		lo, hi := clampLat(t.lat.Lower(k)), clampLat(t.lat.Upper(k))
		var shares []axisShare
		for _, ov := range s.lat.Overlaps(lo, hi) {
			size := math.Sin(deg2rad(clampLat(ov.Hi))) - math.Sin(deg2rad(clampLat(ov.Lo)))
			if size > 0 {
				shares = append(shares, axisShare{s.lat.Index(ov.K), size})
			}
		}
		latShares[t.lat.Index(k)] = shares
	}

	lonShares := make([][]axisShare, len(t.lonCens))
	for k := 0; k < t.lon.Len(); k++ {
		var shares []axisShare
		for _, ov := range s.lon.Overlaps(t.lon.Lower(k), t.lon.Upper(k)) {
			shares = append(shares, axisShare{s.lon.Index(ov.K), ov.Hi - ov.Lo})
		}
		lonShares[t.lon.Index(k)] = shares
	}

	var row []entry
	for i := range t.latCens {
		for j := range t.lonCens {
			row = row[:0]
			for _, la := range latShares[i] {
				for _, lo := range lonShares[j] {
					row = append(row, entry{la.idx*nLonS + lo.idx, la.size * lo.size})
				}
			}
			b.addRow(row)
		}
	}
}

func clampLat(lat float64) float64 { return math.Max(-90, math.Min(90, lat)) }

func deg2rad(deg float64) float64 { return deg * math.Pi / 180 }
