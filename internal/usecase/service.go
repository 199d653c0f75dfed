// Package usecase wires providers, the field store, the regrid engine and
// the ensemble analyzer into the pipeline operations exposed by the CLI
// and the HTTP API.
package usecase

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.ngs.io/wxgrid/internal/adapter/provider"
	"go.ngs.io/wxgrid/internal/adapter/store"
	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/ensemble"
	"go.ngs.io/wxgrid/internal/export"
	"go.ngs.io/wxgrid/internal/regrid"
)

// ErrInvalidRequest marks requests rejected before any work is done.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ProviderFactory returns the provider configured under name.
type ProviderFactory func(name string) (provider.Provider, error)

// NewProviderFactory builds providers from cfg on first use and reuses
// them, so circuit breaker state survives between requests.
func NewProviderFactory(cfg *config.Config, client *http.Client) ProviderFactory {
	var mu sync.Mutex
	built := make(map[string]provider.Provider)
	return func(name string) (provider.Provider, error) {
		if name == "" {
			name = cfg.Defaults.Provider
		}
		mu.Lock()
		defer mu.Unlock()
		if p, ok := built[name]; ok {
			return p, nil
		}
		pc, err := cfg.Provider(name)
		if err != nil {
			return nil, err
		}
		p, err := provider.New(name, pc, provider.Options{Client: client, CanonicalUnits: cfg.CanonicalUnits})
		if err != nil {
			return nil, err
		}
		built[name] = p
		return p, nil
	}
}

// Service runs the pipeline operations.
type Service struct {
	cfg       *config.Config
	fields    store.FieldStore
	engine    *regrid.Engine
	analyzer  *ensemble.Analyzer
	exporter  *export.Exporter
	providers ProviderFactory
}

// NewService creates a pipeline service.
func NewService(cfg *config.Config, fields store.FieldStore, engine *regrid.Engine,
	exporter *export.Exporter, providers ProviderFactory) *Service {
	return &Service{
		cfg:       cfg,
		fields:    fields,
		engine:    engine,
		analyzer:  ensemble.NewAnalyzer(),
		exporter:  exporter,
		providers: providers,
	}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// Engine returns the regrid engine.
func (s *Service) Engine() *regrid.Engine { return s.engine }

// ResolveRegion returns the region selected by explicit bounds or by name;
// bounds take precedence. Both empty selects the default region.
func (s *Service) ResolveRegion(name string, bounds *domain.Bounds) (*domain.Region, error) {
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
		return &domain.Region{Name: "custom", Bounds: *bounds}, nil
	}
	r, err := s.cfg.Region(name)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ResolveTarget returns the grid named by target: the grid of an existing
// field file, or a configured reference grid built over bounds when given
// and over the named region otherwise.
func (s *Service) ResolveTarget(target, region string, bounds *domain.Bounds) (*domain.GridDefinition, error) {
	if target == "" {
		target = s.cfg.Defaults.ReferenceGrid
	}
	if isFieldFile(target) {
		return s.fields.ReadGrid(target)
	}
	if bounds != nil {
		return s.cfg.GridOver(target, *bounds)
	}
	return s.cfg.Grid(target, region)
}

func isFieldFile(path string) bool {
	if !strings.HasSuffix(path, ".nc") && !strings.ContainsRune(path, filepath.Separator) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// method parses a method name, falling back to the configured default.
func (s *Service) method(name string) (regrid.Method, error) {
	if name == "" {
		name = s.cfg.Defaults.Method
	}
	return regrid.ParseMethod(name)
}
