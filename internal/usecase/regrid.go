package usecase

import (
	"context"

	"github.com/rs/zerolog/log"
)

// RegridRequest maps one stored field onto a target grid.
type RegridRequest struct {
	Source   string
	Variable string
	// TargetGrid is a configured grid name or a field file whose grid is
	// reused.
	TargetGrid string
	Region     string
	Method     string
	Output     string
}

// RegridResponse describes the regridded file.
type RegridResponse struct {
	Path        string `json:"path"`
	Variable    string `json:"variable"`
	Method      string `json:"method"`
	SourceShape [2]int `json:"source_shape"`
	TargetShape [2]int `json:"target_shape"`
}

// Validate checks if the request is valid
func (r *RegridRequest) Validate() error {
	if r.Source == "" {
		return invalid("source file is required")
	}
	if r.Output == "" {
		return invalid("output file is required")
	}
	return nil
}

// Regrid reads a field, regrids it and writes the result.
func (s *Service) Regrid(ctx context.Context, req RegridRequest) (*RegridResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m, err := s.method(req.Method)
	if err != nil {
		return nil, err
	}
	target, err := s.ResolveTarget(req.TargetGrid, req.Region, nil)
	if err != nil {
		return nil, err
	}
	src, err := s.fields.ReadField(req.Source, req.Variable)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.engine.Regrid(src, target, m)
	if err != nil {
		return nil, err
	}
	if err := s.fields.WriteField(req.Output, out); err != nil {
		return nil, err
	}

	sLat, sLon := src.Grid.Shape()
	tLat, tLon := target.Shape()
	log.Info().
		Str("source", req.Source).
		Str("method", string(m)).
		Str("target", target.Describe()).
		Str("path", req.Output).
		Msg("field regridded")

	return &RegridResponse{
		Path:        req.Output,
		Variable:    out.Variable,
		Method:      string(m),
		SourceShape: [2]int{sLat, sLon},
		TargetShape: [2]int{tLat, tLon},
	}, nil
}
