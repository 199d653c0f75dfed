package field

import (
	"errors"
	"math"
	"sort"

	"go.ngs.io/wxgrid/internal/adapter/interp"
	"go.ngs.io/wxgrid/internal/domain"
)

// normalize flips descending latitudes and re-centres longitudes on
// [-180, 180), or on [0, 360) when the requested box extends past 180.
// Longitudes are left alone when re-centring would split the axis.
func (p *Plane) normalize(bounds *domain.Bounds) {
	if n := len(p.Lats); n > 1 && p.Lats[0] > p.Lats[n-1] {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			p.Lats[i], p.Lats[j] = p.Lats[j], p.Lats[i]
			p.Values[i], p.Values[j] = p.Values[j], p.Values[i]
		}
	}

	to360 := bounds != nil && bounds.LonMax > 180
	mapped := make([]float64, len(p.Lons))
	for j, lon := range p.Lons {
		if to360 {
			mapped[j] = math.Mod(math.Mod(lon, 360)+360, 360)
		} else {
			mapped[j] = interp.NormalizeLon180(lon)
		}
	}

	order := make([]int, len(mapped))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return mapped[order[a]] < mapped[order[b]] })

	// Drop duplicated meridians (0 and 360 map onto the same longitude).
	kept := order[:0]
	for _, j := range order {
		if n := len(kept); n > 0 && math.Abs(mapped[kept[n-1]]-mapped[j]) < domain.CoordTolerance {
			continue
		}
		kept = append(kept, j)
	}
	if !contiguous(p.Lons, mapped, kept) {
		if len(p.Lons) > 1 && p.Lons[0] > p.Lons[len(p.Lons)-1] {
			p.reverseLons()
		}
		return
	}

	lons := make([]float64, len(kept))
	for k, j := range kept {
		lons[k] = mapped[j]
	}
	for i, row := range p.Values {
		out := make([]float64, len(kept))
		for k, j := range kept {
			out[k] = row[j]
		}
		p.Values[i] = out
	}
	p.Lons = lons
}

// contiguous reports whether the re-centred axis keeps the original spacing,
// i.e. it is either global or does not straddle the seam.
func contiguous(orig, mapped []float64, order []int) bool {
	if len(order) < 2 {
		return true
	}
	step := math.Abs(orig[1] - orig[0])
	for k := 1; k < len(order); k++ {
		if mapped[order[k]]-mapped[order[k-1]] > step*1.5+domain.CoordTolerance {
			return false
		}
	}
	return true
}

func (p *Plane) reverseLons() {
	n := len(p.Lons)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		p.Lons[i], p.Lons[j] = p.Lons[j], p.Lons[i]
	}
	for _, row := range p.Values {
		for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
}

// subset trims the plane to b plus one cell of margin.
func (p *Plane) subset(b domain.Bounds) error {
	latLo, latHi, err := indexRange(p.Lats, b.LatMin, b.LatMax)
	if err != nil {
		return err
	}
	lonLo, lonHi, err := indexRange(p.Lons, b.LonMin, b.LonMax)
	if errors.Is(err, domain.ErrNoOverlap) && interp.AxisRequiresWrap(p.Lons) {
		lonLo, lonHi, err = indexRange(p.Lons, b.LonMin+360, b.LonMax+360)
	}
	if err != nil {
		return err
	}

	p.Lats = p.Lats[latLo : latHi+1]
	p.Lons = p.Lons[lonLo : lonHi+1]
	rows := p.Values[latLo : latHi+1]
	values := make([][]float64, len(rows))
	for i, row := range rows {
		values[i] = append([]float64(nil), row[lonLo:lonHi+1]...)
	}
	p.Values = values
	return nil
}
