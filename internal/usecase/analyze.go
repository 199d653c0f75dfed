package usecase

import (
	"context"

	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/ensemble"
	"go.ngs.io/wxgrid/internal/export"
)

// AnalyzeRequest runs an ensemble analysis over stored field files.
type AnalyzeRequest struct {
	Variable string
	Files    []string
	Labels   []string

	// TargetGrid, when set, regrids every file onto it first. Otherwise
	// the files must already share one grid.
	TargetGrid string
	Region     string
	Method     string

	// JSON and Plot are optional output paths.
	JSON          string
	Plot          string
	IncludeArrays bool
}

// AnalysisResponse pairs the raw result with its exported record.
type AnalysisResponse struct {
	Result *ensemble.Result
	Record *export.Record
}

// Validate checks if the request is valid
func (r *AnalyzeRequest) Validate() error {
	if r.Variable == "" {
		return invalid("variable is required")
	}
	if len(r.Files) == 0 {
		return invalid("at least one file is required")
	}
	return nil
}

// Analyze reads the files, optionally regrids them and computes spread.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := make([]*domain.FieldDataset, 0, len(req.Files))
	for _, path := range req.Files {
		f, err := s.fields.ReadField(path, req.Variable)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return s.analyzeFields(ctx, fields, req.Labels, analysisOutput{
		targetGrid:    req.TargetGrid,
		region:        req.Region,
		method:        req.Method,
		json:          req.JSON,
		plot:          req.Plot,
		includeArrays: req.IncludeArrays,
	})
}

type analysisOutput struct {
	targetGrid    string
	region        string
	bounds        *domain.Bounds
	method        string
	json          string
	plot          string
	includeArrays bool
}

func (s *Service) analyzeFields(ctx context.Context, fields []*domain.FieldDataset, labels []string, o analysisOutput) (*AnalysisResponse, error) {
	if o.targetGrid != "" {
		m, err := s.method(o.method)
		if err != nil {
			return nil, err
		}
		target, err := s.ResolveTarget(o.targetGrid, o.region, o.bounds)
		if err != nil {
			return nil, err
		}
		fields, err = s.engine.RegridAll(ctx, fields, target, m)
		if err != nil {
			return nil, err
		}
	}

	res, err := s.analyzer.Analyze(fields, labels)
	if err != nil {
		return nil, err
	}
	rec := s.exporter.Export(res, export.Options{IncludeArrays: o.includeArrays})

	if o.json != "" {
		if err := export.WriteJSON(o.json, rec); err != nil {
			return nil, err
		}
		log.Info().Str("path", o.json).Msg("analysis written")
	}
	if o.plot != "" {
		if err := s.exporter.Render(ctx, res, o.plot); err != nil {
			return nil, err
		}
		log.Info().Str("path", o.plot).Msg("spread map written")
	}
	return &AnalysisResponse{Result: res, Record: rec}, nil
}
