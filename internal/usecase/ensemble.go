package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/wxgrid/internal/domain"
)

// EnsembleSource is one member of a multi-provider ensemble.
type EnsembleSource struct {
	Provider string
	// Label defaults to the provider name.
	Label string
}

// EnsembleRequest fetches the same variable from several providers,
// regrids the members onto one grid and analyses their spread.
type EnsembleRequest struct {
	Variable     string
	ForecastHour int
	RunTime      time.Time
	Region       string
	Bounds       *domain.Bounds
	// TargetGrid defaults to the configured reference grid.
	TargetGrid    string
	Method        string
	Sources       []EnsembleSource
	IncludeArrays bool
}

// Validate checks if the request is valid
func (r *EnsembleRequest) Validate() error {
	if r.Variable == "" {
		return invalid("variable is required")
	}
	if r.ForecastHour < 0 {
		return invalid("forecast hour must be non-negative, got %d", r.ForecastHour)
	}
	if len(r.Sources) == 0 {
		return invalid("at least one source is required")
	}
	seen := make(map[string]bool, len(r.Sources))
	for i, src := range r.Sources {
		if src.Provider == "" {
			return invalid("source %d has no provider", i)
		}
		label := src.label()
		if seen[label] {
			return domain.NewError(domain.ErrLabelCountMismatch, "label %q is used by more than one source", label)
		}
		seen[label] = true
	}
	return nil
}

func (s EnsembleSource) label() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Provider
}

// Ensemble runs the acquire, regrid and analyse pipeline in memory.
func (s *Service) Ensemble(ctx context.Context, req EnsembleRequest) (*AnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fields := make([]*domain.FieldDataset, len(req.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range req.Sources {
		g.Go(func() error {
			f, err := s.Fetch(gctx, DownloadRequest{
				Provider:     src.Provider,
				Variable:     req.Variable,
				ForecastHour: req.ForecastHour,
				RunTime:      req.RunTime,
				Region:       req.Region,
				Bounds:       req.Bounds,
			})
			if err != nil {
				return err
			}
			fields[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	labels := make([]string, len(req.Sources))
	for i, src := range req.Sources {
		labels[i] = src.label()
	}

	target := req.TargetGrid
	if target == "" {
		target = s.cfg.Defaults.ReferenceGrid
	}
	resp, err := s.analyzeFields(ctx, fields, labels, analysisOutput{
		targetGrid:    target,
		region:        req.Region,
		bounds:        req.Bounds,
		method:        req.Method,
		includeArrays: req.IncludeArrays,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("variable", req.Variable).
		Strs("labels", labels).
		Float64("global_mean_spread", resp.Result.Aggregates.GlobalMeanSpread).
		Msg("ensemble analysed")
	return resp, nil
}
