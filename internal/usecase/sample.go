package usecase

import (
	"go.ngs.io/wxgrid/internal/adapter/interp"
	"go.ngs.io/wxgrid/internal/domain"
)

// SampleRequest asks for the value of a stored field at one location.
type SampleRequest struct {
	File     string
	Variable string
	Lat      float64
	Lon      float64
}

// SampleResponse is a bilinearly interpolated point value. Value is NaN
// when any surrounding cell is missing.
type SampleResponse struct {
	Variable string
	Unit     string
	Lat      float64
	Lon      float64
	Value    float64
}

// Validate checks if the request is valid
func (r *SampleRequest) Validate() error {
	if r.File == "" {
		return invalid("file is required")
	}
	if r.Lat < -90 || r.Lat > 90 {
		return invalid("latitude must be between -90 and 90, got %g", r.Lat)
	}
	if r.Lon < -180 || r.Lon > 360 {
		return invalid("longitude must be between -180 and 360, got %g", r.Lon)
	}
	return nil
}

// Sample interpolates a stored field at a point.
func (s *Service) Sample(req SampleRequest) (*SampleResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f, err := s.fields.ReadField(req.File, req.Variable)
	if err != nil {
		return nil, err
	}

	v, err := pointGrid(f).InterpolateAt(req.Lon, req.Lat)
	if err != nil {
		return nil, domain.NewError(domain.ErrNoOverlap, "(%g, %g) is outside %s: %v", req.Lat, req.Lon, f.Grid.Describe(), err)
	}
	return &SampleResponse{
		Variable: f.Variable,
		Unit:     f.Unit,
		Lat:      req.Lat,
		Lon:      req.Lon,
		Value:    v,
	}, nil
}

// pointGrid views f as an interp.Grid2D on its cell centres.
func pointGrid(f *domain.FieldDataset) *interp.Grid2D {
	lats, lons := f.Grid.Lats(), f.Grid.Lons()
	if f.Grid.Convention() == domain.CellEdge {
		lats, lons = edgeCentres(lats), edgeCentres(lons)
	}
	return &interp.Grid2D{X: lons, Y: lats, Values: f.Values, Circular: true}
}

// edgeCentres moves lower cell edges to centres, giving the last cell the
// previous spacing.
func edgeCentres(c []float64) []float64 {
	out := make([]float64, len(c))
	for k := range c {
		switch {
		case k+1 < len(c):
			out[k] = (c[k] + c[k+1]) / 2
		case k > 0:
			out[k] = c[k] + (c[k]-c[k-1])/2
		default:
			out[k] = c[k]
		}
	}
	return out
}
