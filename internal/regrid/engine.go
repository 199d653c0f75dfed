package regrid

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/wxgrid/internal/domain"
)

// Attribute keys added to regridded fields.
const (
	AttrMethod      = "regrid_method"
	AttrSourceShape = "regrid_source_shape"
	AttrTargetShape = "regrid_target_shape"
)

// Engine regrids fields between rectilinear grids, reusing weights through
// its cache. It is safe for concurrent use.
type Engine struct {
	cache       *Cache
	parallelism int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache shares an existing cache.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithWeightStore backs a fresh cache with persistent storage.
func WithWeightStore(s WeightStore) Option {
	return func(e *Engine) { e.cache = NewCache(s) }
}

// WithParallelism bounds the number of fields RegridAll processes at once.
// Zero or less means unbounded.
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// NewEngine creates an engine with an in-memory cache unless configured
// otherwise.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewCache(nil)
	}
	return e
}

// Cache exposes the engine's weight cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Weights returns the (cached) weight set for a grid pair.
func (e *Engine) Weights(src, tgt *domain.GridDefinition, m Method) (*Weights, error) {
	if !m.Valid() {
		return nil, domain.NewError(domain.ErrUnsupportedMethod, "%q", m)
	}
	if src == nil || tgt == nil {
		return nil, domain.NewError(domain.ErrInvalidGrid, "source and target grids are required")
	}
	key := NewKey(src, tgt, m)
	return e.cache.Get(key, func() (*Weights, error) {
		start := time.Now()
		w, err := ComputeWeights(src, tgt, m)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("method", string(m)).
			Str("source", src.Describe()).
			Str("target", tgt.Describe()).
			Int("entries", len(w.Vals)).
			Dur("elapsed", time.Since(start)).
			Msg("computed regrid weights")
		return w, nil
	})
}

// Regrid maps src onto target. The source is left untouched; the result
// carries the source variable, unit and provenance plus regrid attributes.
func (e *Engine) Regrid(src *domain.FieldDataset, target *domain.GridDefinition, m Method) (*domain.FieldDataset, error) {
	if !m.Valid() {
		return nil, domain.NewError(domain.ErrUnsupportedMethod, "%q", m)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, domain.NewError(domain.ErrInvalidGrid, "target grid is required")
	}

	start := time.Now()
	defer func() { regridDuration.WithLabelValues(string(m)).Observe(time.Since(start).Seconds()) }()

	var values [][]float64
	if src.Grid.Equal(target) {
		values = src.Values
	} else {
		w, err := e.Weights(src.Grid, target, m)
		if err != nil {
			return nil, fmt.Errorf("regrid %s from %s: %w", src.Variable, src.Provenance.Source, err)
		}
		values, err = w.Apply(src.Values, m.renormalizes())
		if err != nil {
			return nil, err
		}
	}

	out, err := src.WithValues(target, values)
	if err != nil {
		return nil, err
	}
	sLat, sLon := src.Grid.Shape()
	tLat, tLon := target.Shape()
	out.Attrs[AttrMethod] = string(m)
	out.Attrs[AttrSourceShape] = fmt.Sprintf("%dx%d", sLat, sLon)
	out.Attrs[AttrTargetShape] = fmt.Sprintf("%dx%d", tLat, tLon)
	return out, nil
}

// RegridAll regrids every field onto target in parallel and returns the
// results in input order once all have finished. The first failure cancels
// the remaining work.
func (e *Engine) RegridAll(ctx context.Context, fields []*domain.FieldDataset, target *domain.GridDefinition, m Method) ([]*domain.FieldDataset, error) {
	out := make([]*domain.FieldDataset, len(fields))
	g, ctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i, f := range fields {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := e.Regrid(f, target, m)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
