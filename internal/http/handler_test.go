package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"go.ngs.io/wxgrid/internal/adapter/provider"
	"go.ngs.io/wxgrid/internal/adapter/store/field"
	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/export"
	"go.ngs.io/wxgrid/internal/regrid"
	"go.ngs.io/wxgrid/internal/usecase"
)

type constProvider struct {
	name  string
	value float64
	err   error
}

func (p constProvider) Name() string { return p.name }

func (p constProvider) Open(_ context.Context, req provider.Request) (*domain.FieldDataset, error) {
	if p.err != nil {
		return nil, p.err
	}
	g, err := domain.BuildGrid(domain.Bounds{LatMin: -1, LatMax: 11, LonMin: -1, LonMax: 21}, 1)
	if err != nil {
		return nil, err
	}
	nLat, nLon := g.Shape()
	values := make([][]float64, nLat)
	for i := range values {
		values[i] = make([]float64, nLon)
		for j := range values[i] {
			values[i][j] = p.value
		}
	}
	return domain.NewFieldDataset(g, values, req.Variable, "K", domain.Provenance{Source: p.name})
}

func setupTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Regions["box"] = domain.Bounds{LatMin: 0, LatMax: 10, LonMin: 0, LonMax: 20}
	cfg.ReferenceGrids["coarse"] = config.GridSpec{Resolution: 5, Region: "box"}
	cfg.Defaults.ReferenceGrid = "coarse"
	cfg.Defaults.Region = "box"

	providers := map[string]provider.Provider{
		"gfs":  constProvider{name: "gfs", value: 280},
		"icon": constProvider{name: "icon", value: 282},
		"down": constProvider{name: "down", err: domain.NewError(domain.ErrProvider, "unreachable")},
	}
	factory := func(name string) (provider.Provider, error) {
		if p, ok := providers[name]; ok {
			return p, nil
		}
		return nil, domain.NewError(domain.ErrProvider, "provider %q not found", name)
	}
	svc := usecase.NewService(cfg, field.NewStore(), regrid.NewEngine(), export.NewExporter(nil), factory)
	return SetupRouter(svc), cfg.DataDir
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %q", resp["status"])
	}
}

func TestPostEnsemble(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(router, http.MethodPost, "/v1/ensemble", map[string]any{
		"variable":       "t2m",
		"forecast_hour":  6,
		"run_time":       "2024-01-15T12:00:00Z",
		"sources":        []map[string]string{{"provider": "gfs"}, {"provider": "icon", "label": "ICON"}},
		"include_arrays": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["n_models"] != float64(2) {
		t.Errorf("n_models = %v", rec["n_models"])
	}
	grid := rec["grid"].(map[string]any)
	if grid["lat_count"] != float64(3) || grid["lon_count"] != float64(5) {
		t.Errorf("grid = %v", grid)
	}
	if spread, ok := rec["spread"].([]any); !ok || len(spread) != 3 {
		t.Errorf("spread = %v", rec["spread"])
	}
}

func TestPostEnsemble_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantKind string
	}{
		{
			name:     "missing variable",
			body:     map[string]any{"sources": []map[string]string{{"provider": "gfs"}}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad run time",
			body:     map[string]any{"variable": "t2m", "run_time": "yesterday", "sources": []map[string]string{{"provider": "gfs"}}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unsupported method",
			body:     map[string]any{"variable": "t2m", "method": "spline", "sources": []map[string]string{{"provider": "gfs"}, {"provider": "icon"}}},
			wantCode: http.StatusBadRequest,
			wantKind: "UnsupportedMethodError",
		},
		{
			name:     "single source",
			body:     map[string]any{"variable": "t2m", "sources": []map[string]string{{"provider": "gfs"}}},
			wantCode: http.StatusUnprocessableEntity,
			wantKind: "InsufficientDataError",
		},
		{
			name:     "provider down",
			body:     map[string]any{"variable": "t2m", "sources": []map[string]string{{"provider": "gfs"}, {"provider": "down"}}},
			wantCode: http.StatusBadGateway,
			wantKind: "ProviderError",
		},
	}
	router, _ := setupTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/v1/ensemble", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantKind == "" {
				return
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["kind"] != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp["kind"], tt.wantKind)
			}
		})
	}
}

func TestTargetGridConfinedToDataDir(t *testing.T) {
	router, dataDir := setupTestRouter(t)

	f, err := constProvider{name: "gfs", value: 280}.Open(context.Background(), provider.Request{Variable: "t2m"})
	if err != nil {
		t.Fatal(err)
	}
	store := field.NewStore()
	outside := filepath.Join(filepath.Dir(dataDir), "outside.nc")
	if err := store.WriteField(outside, f); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := store.WriteField(filepath.Join(dataDir, "grids", "target.nc"), f); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := store.WriteField(filepath.Join(dataDir, "a.nc"), f); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := store.WriteField(filepath.Join(dataDir, "b.nc"), f); err != nil {
		t.Fatalf("WriteField: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		target   string
		wantCode int
		wantLats float64
	}{
		{"ensemble absolute path", "/v1/ensemble", outside, http.StatusBadRequest, 0},
		{"ensemble parent path", "/v1/ensemble", "../outside.nc", http.StatusBadRequest, 0},
		{"analyze absolute path", "/v1/analyze", outside, http.StatusBadRequest, 0},
		{"analyze parent path without suffix", "/v1/analyze", "../outside", http.StatusBadRequest, 0},
		{"ensemble file in data dir", "/v1/ensemble", "grids/target.nc", http.StatusOK, 13},
		{"analyze configured grid", "/v1/analyze", "coarse", http.StatusOK, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{"variable": "t2m", "target_grid": tt.target}
			if tt.path == "/v1/ensemble" {
				body["sources"] = []map[string]string{{"provider": "gfs"}, {"provider": "icon"}}
			} else {
				body["files"] = []string{"a.nc", "b.nc"}
			}
			w := doJSON(router, http.MethodPost, tt.path, body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if w.Code != http.StatusOK {
				return
			}
			var rec map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if grid := rec["grid"].(map[string]any); grid["lat_count"] != tt.wantLats {
				t.Errorf("grid = %v", grid)
			}
		})
	}
}

func TestPostAnalyze_MissingFile(t *testing.T) {
	router, _ := setupTestRouter(t)
	w := doJSON(router, http.MethodPost, "/v1/analyze", map[string]any{
		"variable": "t2m",
		"files":    []string{"/nonexistent/a.nc", "/nonexistent/b.nc"},
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	w = doJSON(router, http.MethodPost, "/v1/analyze", map[string]any{"variable": "t2m"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status without files = %d, want 400", w.Code)
	}
}

func TestGetInfoAndGrid(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, http.MethodGet, "/v1/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("info status = %d", w.Code)
	}
	var info usecase.InfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if len(info.Methods) != 4 || len(info.Providers) == 0 {
		t.Errorf("info = %+v", info)
	}

	w = doJSON(router, http.MethodGet, "/v1/grids/coarse?coords=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("grid status = %d", w.Code)
	}
	var sum usecase.GridSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	if sum.LatCount != 3 || len(sum.Lats) != 3 {
		t.Errorf("grid = %+v", sum)
	}

	w = doJSON(router, http.MethodGet, "/v1/grids/unknown", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown grid status = %d, want 400", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewError(domain.ErrGridMismatch, "x"), http.StatusUnprocessableEntity},
		{domain.NewError(domain.ErrNoOverlap, "x"), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", domain.NewError(domain.ErrInvalidGrid, "x")), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetSample(t *testing.T) {
	router, dataDir := setupTestRouter(t)

	f, err := constProvider{name: "gfs", value: 280}.Open(context.Background(), provider.Request{Variable: "t2m"})
	if err != nil {
		t.Fatal(err)
	}
	f.Values[0][0] = domain.Missing
	if err := field.NewStore().WriteField(filepath.Join(dataDir, "raw", "gfs.nc"), f); err != nil {
		t.Fatalf("WriteField: %v", err)
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantValue any
	}{
		{"inside", "file=raw/gfs.nc&lat=5.5&lon=7.25", http.StatusOK, float64(280)},
		{"next to missing", "file=raw/gfs.nc&lat=-0.5&lon=-0.5", http.StatusOK, nil},
		{"escape attempt stays in data dir", "file=../raw/gfs.nc&lat=5&lon=5", http.StatusOK, float64(280)},
		{"outside grid", "file=raw/gfs.nc&lat=50&lon=5", http.StatusUnprocessableEntity, nil},
		{"bad latitude", "file=raw/gfs.nc&lat=north&lon=5", http.StatusBadRequest, nil},
		{"no file", "lat=5&lon=5", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodGet, "/v1/sample?"+tt.query, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if w.Code != http.StatusOK {
				return
			}
			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["value"] != tt.wantValue {
				t.Errorf("value = %v, want %v", resp["value"], tt.wantValue)
			}
		})
	}
}
