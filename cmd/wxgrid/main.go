// Package main provides the wxgrid command line tool and API server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/adapter/render"
	"go.ngs.io/wxgrid/internal/adapter/store/field"
	"go.ngs.io/wxgrid/internal/adapter/store/weights"
	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/domain"
	"go.ngs.io/wxgrid/internal/export"
	"go.ngs.io/wxgrid/internal/regrid"
	"go.ngs.io/wxgrid/internal/usecase"
)

const version = "0.1.0"

type command struct {
	name    string
	summary string
	run     func(app *app, args []string) error
}

var commands = []command{
	{"download", "Fetch one provider field and store it as NetCDF", runDownload},
	{"regrid", "Regrid a stored field onto a reference grid or another file's grid", runRegrid},
	{"analyze", "Compute ensemble spread across stored fields", runAnalyze},
	{"sample", "Interpolate a stored field at one location", runSample},
	{"info", "List providers, regions, reference grids and methods", runInfo},
	{"serve", "Start the HTTP API", runServe},
}

func main() {
	flag.Usage = printUsage
	configPath := flag.String("config", "", "Path to the YAML configuration (default: "+config.DefaultPath+" or built-in)")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wxgrid version %s\n", version)
		return
	}
	setupLogger("info")

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		exit(err)
	}
	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	setupLogger(level)

	if err := cmd.run(newApp(cfg), args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		exit(err)
	}
}

// app holds the collaborators shared by all commands.
type app struct {
	cfg *config.Config
	svc *usecase.Service
}

func newApp(cfg *config.Config) *app {
	var opts []regrid.Option
	if dir := cfg.Cache.WeightsDir; dir != "" {
		opts = append(opts, regrid.WithWeightStore(weights.NewStore(dir)))
		log.Debug().Str("dir", dir).Msg("weight files enabled")
	}
	engine := regrid.NewEngine(opts...)
	client := &http.Client{Timeout: 5 * time.Minute}
	svc := usecase.NewService(cfg, field.NewStore(), engine,
		export.NewExporter(render.NewHeatMap()),
		usecase.NewProviderFactory(cfg, client))
	return &app{cfg: cfg, svc: svc}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// exit prints err with its kind and terminates with status 1.
func exit(err error) {
	kind := domain.KindName(err)
	if errors.Is(err, usecase.ErrInvalidRequest) {
		kind = "UsageError"
	}
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", kind, err)
	os.Exit(1)
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("wxgrid v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  wxgrid [flags] <command> [command flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.summary)
	}
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH      Configuration file (default: " + config.DefaultPath + ", else built-in)")
	fmt.Println("  -log-level LVL    trace, debug, info, warn or error")
	fmt.Println("  -version          Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  WXGRID_DATA_DIR               Data directory (default: ./data)")
	fmt.Println("  WXGRID_WEIGHTS_DIR            Directory for cached regrid weights")
	fmt.Println("  WXGRID_PORT, PORT             Server port (default: 8080)")
	fmt.Println("  WXGRID_CORS_ALLOWED_ORIGINS   Comma-separated list of allowed origins (default: all)")
	fmt.Println("  WXGRID_LOG_LEVEL              Log level")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  wxgrid download -provider gfs_opendap -variable t2m -forecast-hour 24 -region europe")
	fmt.Println("  wxgrid regrid -source data/raw/gfs_opendap_t2m_f024.nc -target-grid europe_0p1 -output data/regridded/gfs.nc")
	fmt.Println("  wxgrid analyze -var t2m -files gfs.nc,icon.nc -labels GFS,ICON -output spread.png -json analysis.json")
	fmt.Println()
}
