package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/adapter/provider"
	"go.ngs.io/wxgrid/internal/domain"
)

// DownloadRequest selects one provider field to fetch and persist.
type DownloadRequest struct {
	Provider     string
	Variable     string
	ForecastHour int
	// RunTime is the model initialisation time; zero selects the latest
	// available run.
	RunTime time.Time

	// Region names a configured region; Bounds overrides it.
	Region string
	Bounds *domain.Bounds

	// Output defaults to <data_dir>/raw/<provider>_<variable>_f<FFF>.nc.
	Output string
}

// DownloadResponse describes the persisted field.
type DownloadResponse struct {
	Path         string    `json:"path"`
	Provider     string    `json:"provider"`
	Variable     string    `json:"variable"`
	Unit         string    `json:"unit"`
	RunTime      time.Time `json:"run_time"`
	ForecastHour int       `json:"forecast_hour"`
	Region       string    `json:"region"`
	LatCount     int       `json:"lat_count"`
	LonCount     int       `json:"lon_count"`
}

// Validate checks if the request is valid
func (r *DownloadRequest) Validate() error {
	if r.Variable == "" {
		return invalid("variable is required")
	}
	if r.ForecastHour < 0 {
		return invalid("forecast hour must be non-negative, got %d", r.ForecastHour)
	}
	return nil
}

// Fetch opens the requested field without persisting it.
func (s *Service) Fetch(ctx context.Context, req DownloadRequest) (*domain.FieldDataset, error) {
	if req.Provider == "" {
		req.Provider = s.cfg.Defaults.Provider
	}
	if req.Variable == "" {
		req.Variable = s.cfg.Defaults.Variable
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	region, err := s.ResolveRegion(req.Region, req.Bounds)
	if err != nil {
		return nil, err
	}
	p, err := s.providers(req.Provider)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx, provider.Request{
		Variable:     req.Variable,
		ForecastHour: req.ForecastHour,
		RunTime:      req.RunTime,
		Region:       region,
	})
}

// Download fetches a field and writes it to the field store.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResponse, error) {
	if req.Provider == "" {
		req.Provider = s.cfg.Defaults.Provider
	}
	if req.Variable == "" {
		req.Variable = s.cfg.Defaults.Variable
	}
	f, err := s.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	out := req.Output
	if out == "" {
		out = s.RawPath(req.Provider, req.Variable, req.ForecastHour)
	}
	if err := s.fields.WriteField(out, f); err != nil {
		return nil, err
	}

	nLat, nLon := f.Grid.Shape()
	log.Info().
		Str("provider", req.Provider).
		Str("variable", f.Variable).
		Int("forecast_hour", f.Provenance.ForecastHour).
		Time("run_time", f.Provenance.RunTime).
		Str("path", out).
		Msg("field downloaded")

	return &DownloadResponse{
		Path:         out,
		Provider:     req.Provider,
		Variable:     f.Variable,
		Unit:         f.Unit,
		RunTime:      f.Provenance.RunTime,
		ForecastHour: f.Provenance.ForecastHour,
		Region:       f.Provenance.Region,
		LatCount:     nLat,
		LonCount:     nLon,
	}, nil
}

// RawPath is the default download location for a provider field.
func (s *Service) RawPath(providerName, variable string, forecastHour int) string {
	return filepath.Join(s.cfg.DataDir, "raw", fmt.Sprintf("%s_%s_f%03d.nc", providerName, variable, forecastHour))
}
