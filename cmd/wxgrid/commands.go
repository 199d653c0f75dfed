package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/export"
	httpHandler "go.ngs.io/wxgrid/internal/http"
	"go.ngs.io/wxgrid/internal/regrid"
	"go.ngs.io/wxgrid/internal/scheduler"
	"go.ngs.io/wxgrid/internal/usecase"
)

// listFlag collects repeated or comma-separated values.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("wxgrid "+name, flag.ContinueOnError)
}

func runDownload(a *app, args []string) error {
	fs := newFlagSet("download")
	req := usecase.DownloadRequest{}
	fs.StringVar(&req.Provider, "provider", a.cfg.Defaults.Provider, "Provider name")
	fs.StringVar(&req.Variable, "variable", a.cfg.Defaults.Variable, "Variable (t2m, u10, v10, tp, msl)")
	fs.IntVar(&req.ForecastHour, "forecast-hour", 0, "Forecast hour")
	runTime := fs.String("run-time", "", "Model run time, RFC3339 (default: latest available)")
	fs.StringVar(&req.Region, "region", a.cfg.Defaults.Region, "Configured region name")
	bounds := fs.String("bounds", "", "Custom region as lat_min,lat_max,lon_min,lon_max")
	fs.StringVar(&req.Output, "output", "", "Output NetCDF path (default: <data_dir>/raw/<provider>_<variable>_f<FFF>.nc)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *runTime != "" {
		rt, err := time.Parse(time.RFC3339, *runTime)
		if err != nil {
			return fmt.Errorf("%w: invalid run time (expected RFC3339): %v", usecase.ErrInvalidRequest, err)
		}
		req.RunTime = rt.UTC()
	}
	if *bounds != "" {
		b, err := domain.ParseBounds(*bounds)
		if err != nil {
			return err
		}
		req.Bounds = &b
	}

	resp, err := a.svc.Download(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s from %s (run %s, f%03d, %dx%d) to %s\n",
		resp.Variable, resp.Provider, resp.RunTime.Format(time.RFC3339), resp.ForecastHour,
		resp.LatCount, resp.LonCount, resp.Path)
	return nil
}

func runRegrid(a *app, args []string) error {
	fs := newFlagSet("regrid")
	req := usecase.RegridRequest{}
	fs.StringVar(&req.Source, "source", "", "Source NetCDF file")
	fs.StringVar(&req.Variable, "variable", "", "Variable in the source file (default: the file's own)")
	fs.StringVar(&req.TargetGrid, "target-grid", a.cfg.Defaults.ReferenceGrid, "Reference grid name or NetCDF file")
	fs.StringVar(&req.Region, "region", "", "Region for a named reference grid")
	fs.StringVar(&req.Method, "method", a.cfg.Defaults.Method, "Method: "+methodList())
	fs.StringVar(&req.Output, "output", "", "Output NetCDF path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.svc.Regrid(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Regridded %s %dx%d -> %dx%d (%s) to %s\n", resp.Variable,
		resp.SourceShape[0], resp.SourceShape[1], resp.TargetShape[0], resp.TargetShape[1],
		resp.Method, resp.Path)
	return nil
}

func runAnalyze(a *app, args []string) error {
	fs := newFlagSet("analyze")
	req := usecase.AnalyzeRequest{}
	var files, labels listFlag
	fs.StringVar(&req.Variable, "variable", "", "Variable to analyse")
	fs.StringVar(&req.Variable, "var", "", "Alias for -variable")
	fs.Var(&files, "files", "Field files (repeat or comma-separate)")
	fs.Var(&labels, "labels", "Labels, one per file")
	fs.StringVar(&req.Plot, "output", "", "Spread map PNG path")
	fs.StringVar(&req.JSON, "json", "", "Analysis JSON path")
	fs.StringVar(&req.TargetGrid, "target-grid", "", "Regrid every file onto this grid first")
	fs.StringVar(&req.Region, "region", "", "Region for a named target grid")
	fs.StringVar(&req.Method, "method", a.cfg.Defaults.Method, "Method: "+methodList())
	fs.BoolVar(&req.IncludeArrays, "include-arrays", false, "Add mean and spread arrays to the JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req.Files = append(files, fs.Args()...)
	req.Labels = labels

	resp, err := a.svc.Analyze(context.Background(), req)
	if err != nil {
		return err
	}
	return export.WriteSummary(os.Stdout, resp.Record)
}

func runSample(a *app, args []string) error {
	fs := newFlagSet("sample")
	req := usecase.SampleRequest{}
	fs.StringVar(&req.File, "file", "", "Field file")
	fs.StringVar(&req.Variable, "variable", "", "Variable in the file (default: the file's own)")
	fs.Float64Var(&req.Lat, "lat", 0, "Latitude")
	fs.Float64Var(&req.Lon, "lon", 0, "Longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.svc.Sample(req)
	if err != nil {
		return err
	}
	value := "missing"
	if !math.IsNaN(resp.Value) {
		value = strconv.FormatFloat(resp.Value, 'f', 4, 64)
	}
	fmt.Printf("%s at (%g, %g): %s %s\n", resp.Variable, resp.Lat, resp.Lon, value, resp.Unit)
	return nil
}

func runInfo(a *app, args []string) error {
	fs := newFlagSet("info")
	asJSON := fs.Bool("json", false, "Print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	info := a.svc.Info()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Println("Providers:")
	for _, p := range info.Providers {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %-14s %-8s %-9s %s\n", p.Name, p.Type, state, strings.Join(p.Variables, ", "))
	}
	fmt.Println("\nRegions:")
	for _, name := range sortedRegionNames(info.Regions) {
		fmt.Printf("  %-14s %s\n", name, info.Regions[name])
	}
	fmt.Println("\nReference grids:")
	for _, g := range info.Grids {
		fmt.Printf("  %-14s %6g deg  %s\n", g.Name, g.Resolution, g.Description)
	}
	fmt.Printf("\nMethods: %s\n", methodList())
	return nil
}

func runServe(a *app, args []string) error {
	fs := newFlagSet("serve")
	port := fs.String("port", a.cfg.Server.Port, "Port to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if a.cfg.Prefetch.Enabled {
		sched := scheduler.New(a.cfg.Prefetch, a.svc)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	router := httpHandler.SetupRouter(a.svc)
	srv := &http.Server{Addr: ":" + *port, Handler: router}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

func methodList() string {
	names := make([]string, 0, 4)
	for _, m := range regrid.Methods() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func sortedRegionNames(m map[string]domain.Bounds) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
