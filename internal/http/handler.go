package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/export"
	"go.ngs.io/wxgrid/internal/usecase"
)

// Handler handles HTTP requests for the regridding pipeline.
type Handler struct {
	svc     *usecase.Service
	timeout time.Duration
}

// NewHandler creates a new HTTP handler.
func NewHandler(svc *usecase.Service) *Handler {
	return &Handler{
		svc:     svc,
		timeout: svc.Config().Server.RequestTimeout,
	}
}

// EnsembleBody is the JSON body of POST /v1/ensemble.
type EnsembleBody struct {
	Variable      string         `json:"variable" binding:"required"`
	ForecastHour  int            `json:"forecast_hour" binding:"gte=0"`
	RunTime       string         `json:"run_time"`
	Region        string         `json:"region"`
	Bounds        *domain.Bounds `json:"bounds"`
	TargetGrid    string         `json:"target_grid"`
	Method        string         `json:"method"`
	Sources       []SourceBody   `json:"sources" binding:"required,min=1,dive"`
	IncludeArrays bool           `json:"include_arrays"`
}

// SourceBody names one ensemble member.
type SourceBody struct {
	Provider string `json:"provider" binding:"required"`
	Label    string `json:"label"`
}

// AnalyzeBody is the JSON body of POST /v1/analyze.
type AnalyzeBody struct {
	Variable      string   `json:"variable" binding:"required"`
	Files         []string `json:"files" binding:"required,min=1"`
	Labels        []string `json:"labels"`
	TargetGrid    string   `json:"target_grid"`
	Region        string   `json:"region"`
	Method        string   `json:"method"`
	IncludeArrays bool     `json:"include_arrays"`
}

// PostEnsemble handles POST /v1/ensemble.
func (h *Handler) PostEnsemble(c *gin.Context) {
	var body EnsembleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	req := usecase.EnsembleRequest{
		Variable:      body.Variable,
		ForecastHour:  body.ForecastHour,
		Region:        body.Region,
		Bounds:        body.Bounds,
		TargetGrid:    h.targetGrid(body.TargetGrid),
		Method:        body.Method,
		IncludeArrays: body.IncludeArrays,
	}
	if body.RunTime != "" {
		rt, err := time.Parse(time.RFC3339, body.RunTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid run_time (expected RFC3339): %v", err)})
			return
		}
		req.RunTime = rt.UTC()
	}
	for _, s := range body.Sources {
		req.Sources = append(req.Sources, usecase.EnsembleSource{Provider: s.Provider, Label: s.Label})
	}

	ctx, cancel := h.context(c)
	defer cancel()
	resp, err := h.svc.Ensemble(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Record)
}

// PostAnalyze handles POST /v1/analyze.
func (h *Handler) PostAnalyze(c *gin.Context) {
	var body AnalyzeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	files := make([]string, len(body.Files))
	for i, f := range body.Files {
		files[i] = h.dataPath(f)
	}
	ctx, cancel := h.context(c)
	defer cancel()
	resp, err := h.svc.Analyze(ctx, usecase.AnalyzeRequest{
		Variable:      body.Variable,
		Files:         files,
		Labels:        body.Labels,
		TargetGrid:    h.targetGrid(body.TargetGrid),
		Region:        body.Region,
		Method:        body.Method,
		IncludeArrays: body.IncludeArrays,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.Record)
}

// GetSample handles GET /v1/sample.
func (h *Handler) GetSample(c *gin.Context) {
	file := c.Query("file")
	if file == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file parameter is required"})
		return
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid latitude: %v", err)})
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid longitude: %v", err)})
		return
	}

	resp, err := h.svc.Sample(usecase.SampleRequest{
		File:     h.dataPath(file),
		Variable: c.Query("variable"),
		Lat:      lat,
		Lon:      lon,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"variable": resp.Variable,
		"unit":     resp.Unit,
		"lat":      resp.Lat,
		"lon":      resp.Lon,
		"value":    export.Number(resp.Value),
	})
}

// GetInfo handles GET /v1/info.
func (h *Handler) GetInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Info())
}

// GetGrid handles GET /v1/grids/:name.
func (h *Handler) GetGrid(c *gin.Context) {
	withCoords := false
	if v := c.Query("coords"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid coords: %v", err)})
			return
		}
		withCoords = b
	}
	sum, err := h.svc.Grid(c.Param("name"), c.Query("region"), withCoords)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// dataPath resolves a client-supplied file name inside the data directory.
func (h *Handler) dataPath(p string) string {
	return filepath.Join(h.svc.Config().DataDir, filepath.Clean("/"+p))
}

// targetGrid keeps configured grid names and resolves anything else as a
// field file inside the data directory.
func (h *Handler) targetGrid(name string) string {
	if name == "" {
		return ""
	}
	if _, ok := h.svc.Config().ReferenceGrids[name]; ok {
		return name
	}
	return h.dataPath(name)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  domain.KindName(err),
	})
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidGrid),
		errors.Is(err, domain.ErrUnsupportedMethod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGridMismatch),
		errors.Is(err, domain.ErrUnitMismatch),
		errors.Is(err, domain.ErrVariableMismatch),
		errors.Is(err, domain.ErrLabelCountMismatch),
		errors.Is(err, domain.ErrInsufficientData),
		errors.Is(err, domain.ErrNoOverlap):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, export.ErrNoRenderer):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// requestLogger logs each request through zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
