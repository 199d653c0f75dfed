// Package provider opens remote forecast data as FieldDatasets.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/adapter/store/field"
	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/domain"
)

// Request selects one forecast field.
type Request struct {
	// Variable is the standard variable name (t2m, u10, ...).
	Variable     string
	ForecastHour int
	// RunTime is the model initialisation time; zero selects the latest
	// run expected to be available.
	RunTime time.Time
	// Region, when set, subsets the field to the region plus a margin.
	Region *domain.Region
}

// Provider opens fields from one data source.
type Provider interface {
	Name() string
	Open(ctx context.Context, req Request) (*domain.FieldDataset, error)
}

// Options are shared by all provider kinds.
type Options struct {
	Client *http.Client
	// CanonicalUnits maps variables to the unit fields are converted to.
	CanonicalUnits map[string]string
	Now            func() time.Time
}

// New creates the provider configured under name.
func New(name string, cfg config.ProviderConfig, opts Options) (Provider, error) {
	b, err := newBase(name, cfg, opts)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "opendap":
		return newOpenDAP(b), nil
	case "zarr":
		return newZarr(b), nil
	default:
		return nil, domain.NewError(domain.ErrProvider, "unknown provider type %q for %s", cfg.Type, name)
	}
}

// base holds what every provider kind needs to turn a request into a
// remote location and a decoded plane into a field.
type base struct {
	name    string
	cfg     config.ProviderConfig
	cycles  []int
	units   map[string]string
	client  *http.Client
	backoff Backoff
	now     func() time.Time
}

func newBase(name string, cfg config.ProviderConfig, opts Options) (*base, error) {
	cycles, err := parseCycles(cfg.Cycles)
	if err != nil {
		return nil, domain.NewError(domain.ErrProvider, "%s: %v", name, err)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	b := &base{
		name:   name,
		cfg:    cfg,
		cycles: cycles,
		units:  opts.CanonicalUnits,
		client: client,
		backoff: Backoff{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		now: now,
	}
	return b, nil
}

func (b *base) Name() string { return b.name }

// prepare checks the request against the provider's configuration and
// returns the provider variable name and the resolved run time.
func (b *base) prepare(req Request) (string, time.Time, error) {
	if !b.cfg.IsEnabled() {
		return "", time.Time{}, domain.NewError(domain.ErrProvider, "provider %s is not enabled", b.name)
	}
	if err := b.validateForecastHour(req.ForecastHour); err != nil {
		return "", time.Time{}, err
	}
	name, err := b.variableName(req.Variable)
	if err != nil {
		return "", time.Time{}, err
	}
	rt := req.RunTime
	if rt.IsZero() {
		rt = LatestRunTime(b.now(), b.cycles, b.cfg.AvailabilityLag)
	}
	return name, rt.UTC(), nil
}

// variableName maps a standard variable name to the provider's name.
func (b *base) variableName(standard string) (string, error) {
	if name, ok := b.cfg.Variables[standard]; ok {
		return name, nil
	}
	available := make([]string, 0, len(b.cfg.Variables))
	for k := range b.cfg.Variables {
		available = append(available, k)
	}
	sort.Strings(available)
	return "", domain.NewError(domain.ErrProvider, "variable %s not available from %s (available: %s)",
		standard, b.name, strings.Join(available, ", "))
}

func (b *base) validateForecastHour(h int) error {
	if h < 0 {
		return domain.NewError(domain.ErrProvider, "forecast hour %d is negative", h)
	}
	if len(b.cfg.ForecastHours) > 0 && !slices.Contains(b.cfg.ForecastHours, h) {
		return domain.NewError(domain.ErrProvider, "forecast hour %d not available from %s (available: %v)",
			h, b.name, b.cfg.ForecastHours)
	}
	return nil
}

// url expands the {date} and {cycle} placeholders of the base URL.
func (b *base) url(rt time.Time) string {
	return RunURL(b.cfg.BaseURL, rt)
}

// RunURL expands {date} (YYYYMMDD) and {cycle} (HH) in a URL template.
func RunURL(template string, rt time.Time) string {
	return strings.NewReplacer(
		"{date}", rt.Format("20060102"),
		"{cycle}", fmt.Sprintf("%02d", rt.Hour()),
	).Replace(template)
}

// toField turns a decoded plane into a dataset in the variable's canonical unit.
func (b *base) toField(p *field.Plane, req Request, rt time.Time, providerVar string) (*domain.FieldDataset, error) {
	grid, err := domain.NewGrid(p.Lats, p.Lons, domain.CellCenter)
	if err != nil {
		return nil, domain.NewError(domain.ErrProvider, "%s returned an unusable grid: %v", b.name, err)
	}
	prov := domain.Provenance{
		Source:       b.name,
		RunTime:      rt,
		ForecastHour: req.ForecastHour,
	}
	if req.Region != nil {
		prov.Region = req.Region.Name
	}
	f, err := domain.NewFieldDataset(grid, p.Values, req.Variable, p.Unit, prov)
	if err != nil {
		return nil, err
	}
	f = f.WithAttr("provider_variable", providerVar)
	if p.LongName != "" {
		f = f.WithAttr("long_name", p.LongName)
	}

	if want := b.units[req.Variable]; want != "" && p.Unit != "" && !domain.SameUnit(p.Unit, want) {
		converted, err := f.Convert(want)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
		log.Debug().Str("provider", b.name).Str("from", p.Unit).Str("to", want).Msg("converted units")
		f = converted
	}
	return f, nil
}

// wrap reports a failure to reach or decode remote data as a provider error,
// keeping errors that already carry a kind.
func (b *base) wrap(err error, url string) error {
	if domain.KindName(err) != "Error" {
		return err
	}
	return domain.NewError(domain.ErrProvider, "%s: failed to access %s (the run may not be available yet): %v",
		b.name, url, err)
}

// LatestRunTime returns the most recent cycle of now's day that finished
// at least lag ago, or the last cycle of the previous day.
func LatestRunTime(now time.Time, cycles []int, lag time.Duration) time.Time {
	now = now.UTC()
	if len(cycles) == 0 {
		cycles = []int{0, 6, 12, 18}
	}
	sorted := append([]int(nil), cycles...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, c := range sorted {
		run := day.Add(time.Duration(c) * time.Hour)
		if !run.Add(lag).After(now) {
			return run
		}
	}
	return day.AddDate(0, 0, -1).Add(time.Duration(sorted[0]) * time.Hour)
}

func parseCycles(cycles []string) ([]int, error) {
	out := make([]int, 0, len(cycles))
	for _, c := range cycles {
		h, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid cycle %q", c)
		}
		out = append(out, h)
	}
	return out, nil
}
