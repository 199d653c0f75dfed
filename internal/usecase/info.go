package usecase

import (
	"sort"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/regrid"
)

// ProviderInfo describes a configured provider.
type ProviderInfo struct {
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name,omitempty"`
	Type          string   `json:"type"`
	Enabled       bool     `json:"enabled"`
	Variables     []string `json:"variables"`
	ForecastHours []int    `json:"forecast_hours,omitempty"`
}

// GridInfo describes a configured reference grid.
type GridInfo struct {
	Name        string  `json:"name"`
	Resolution  float64 `json:"resolution"`
	Description string  `json:"description,omitempty"`
	Region      string  `json:"region,omitempty"`
}

// InfoResponse lists what the configuration offers.
type InfoResponse struct {
	Providers []ProviderInfo           `json:"providers"`
	Regions   map[string]domain.Bounds `json:"regions"`
	Grids     []GridInfo               `json:"reference_grids"`
	Methods   []regrid.Method          `json:"methods"`
	Defaults  map[string]string        `json:"defaults"`
	Cache     regrid.Stats             `json:"weight_cache"`
}

// Info reports providers, regions, grids, methods and cache activity.
func (s *Service) Info() *InfoResponse {
	resp := &InfoResponse{
		Regions: s.cfg.Regions,
		Methods: regrid.Methods(),
		Defaults: map[string]string{
			"provider":       s.cfg.Defaults.Provider,
			"reference_grid": s.cfg.Defaults.ReferenceGrid,
			"region":         s.cfg.Defaults.Region,
			"method":         s.cfg.Defaults.Method,
			"variable":       s.cfg.Defaults.Variable,
		},
		Cache: s.engine.Cache().Stats(),
	}
	for _, name := range sortedKeys(s.cfg.Providers) {
		p := s.cfg.Providers[name]
		resp.Providers = append(resp.Providers, ProviderInfo{
			Name:          name,
			DisplayName:   p.Name,
			Type:          p.Type,
			Enabled:       p.IsEnabled(),
			Variables:     sortedKeys(p.Variables),
			ForecastHours: p.ForecastHours,
		})
	}
	for _, name := range sortedKeys(s.cfg.ReferenceGrids) {
		g := s.cfg.ReferenceGrids[name]
		resp.Grids = append(resp.Grids, GridInfo{
			Name:        name,
			Resolution:  g.Resolution,
			Description: g.Description,
			Region:      g.Region,
		})
	}
	return resp
}

// GridSummary describes a grid built for a request.
type GridSummary struct {
	Name       string        `json:"name"`
	Region     string        `json:"region,omitempty"`
	LatCount   int           `json:"lat_count"`
	LonCount   int           `json:"lon_count"`
	Bounds     domain.Bounds `json:"bounds"`
	Extent     domain.Bounds `json:"extent"`
	Convention string        `json:"convention"`
	Identity   string        `json:"identity"`
	Lats       []float64     `json:"lats,omitempty"`
	Lons       []float64     `json:"lons,omitempty"`
}

// Grid builds the named reference grid over region and summarises it.
func (s *Service) Grid(name, region string, withCoords bool) (*GridSummary, error) {
	if name == "" {
		name = s.cfg.Defaults.ReferenceGrid
	}
	g, err := s.cfg.Grid(name, region)
	if err != nil {
		return nil, err
	}
	nLat, nLon := g.Shape()
	sum := &GridSummary{
		Name:       name,
		Region:     region,
		LatCount:   nLat,
		LonCount:   nLon,
		Bounds:     g.Bounds(),
		Extent:     g.Extent(),
		Convention: g.Convention().String(),
		Identity:   g.Identity(),
	}
	if withCoords {
		sum.Lats = g.Lats()
		sum.Lons = g.Lons()
	}
	return sum, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
