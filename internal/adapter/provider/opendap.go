package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"go.ngs.io/wxgrid/internal/adapter/store/field"
	"go.ngs.io/wxgrid/internal/domain"
)

// ncENOTFOUND is libnetcdf's NC_ENOTFOUND, returned for missing remote datasets.
const ncENOTFOUND netcdf.Error = -90

// defaultTimeStepHours is the output interval of GFS OPeNDAP datasets.
const defaultTimeStepHours = 6

// OpenDAP reads fields through libnetcdf's OPeNDAP client, or from local
// NetCDF files when the URL template is a path.
type OpenDAP struct {
	*base
	circuit *gobreaker.CircuitBreaker
}

// newOpenDAP creates an OPeNDAP provider.
func newOpenDAP(b *base) *OpenDAP {
	return &OpenDAP{base: b, circuit: newBreaker(b.name)}
}

// Open selects the requested forecast hour from the run's dataset and
// decodes it over the requested region.
func (p *OpenDAP) Open(ctx context.Context, req Request) (*domain.FieldDataset, error) {
	providerVar, rt, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	url := p.url(rt)
	step := p.cfg.TimeStepHours
	if step <= 0 {
		step = defaultTimeStepHours
	}
	sel := field.Selection{
		Variable:  providerVar,
		LatName:   p.cfg.LatName,
		LonName:   p.cfg.LonName,
		TimeIndex: req.ForecastHour / step,
	}
	if req.Region != nil {
		b := req.Region.Bounds
		sel.Bounds = &b
	}

	log.Info().Str("provider", p.name).Str("url", url).Str("variable", providerVar).
		Int("forecast_hour", req.ForecastHour).Msg("opening dataset")

	plane, err := withResilience(ctx, p.backoff, p.circuit, func() (*field.Plane, error) {
		nc, err := netcdf.OpenFile(url, netcdf.NOWRITE)
		if err != nil {
			if datasetMissing(url, err) {
				return nil, fmt.Errorf("%w: %v", errNotFound, err)
			}
			return nil, err
		}
		defer func() { _ = nc.Close() }()
		return field.Decode(nc, sel)
	})
	if err != nil {
		return nil, p.wrap(err, url)
	}

	f, err := p.toField(plane, req, rt, providerVar)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", p.name).Str("grid", f.Grid.Describe()).Msg("dataset opened")
	return f, nil
}

// datasetMissing reports whether an open failure means the run's dataset does
// not exist yet.
func datasetMissing(url string, err error) bool {
	var ncErr netcdf.Error
	if errors.As(err, &ncErr) && ncErr == ncENOTFOUND {
		return true
	}
	if strings.Contains(url, "://") {
		return false
	}
	_, statErr := os.Stat(url)
	return errors.Is(statErr, fs.ErrNotExist)
}
