// Command hfray traces a fan of HF rays through a generated ionosphere
// and optionally plots and stores the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/hfray/internal/config"
	"github.com/banshee-data/hfray/internal/fan"
	"github.com/banshee-data/hfray/internal/ionomodel"
	"github.com/banshee-data/hfray/internal/monitoring"
	"github.com/banshee-data/hfray/internal/rayplot"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/storage/sqlite"
	"github.com/banshee-data/hfray/internal/units"
	"github.com/banshee-data/hfray/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to trace config JSON (defaults built in)")
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("verbose", false, "Log per-ray diagnostics")

	lat     = flag.Float64("lat", -23.5, "Origin latitude (deg)")
	lon     = flag.Float64("lon", 133.7, "Origin longitude (deg)")
	bearing = flag.Float64("bearing", 324.7, "Fan bearing (deg from north)")
	ut      = flag.String("ut", "2001-03-15T07:00:00Z", "Universal time (RFC 3339)")
	r12     = flag.Float64("r12", 100, "Smoothed sunspot number")
	kp      = flag.Float64("kp", 0, "Kp index driving irregularity strength")

	freq      = flag.Float64("freq", 15, "Ray frequency (MHz)")
	elevStart = flag.Float64("elev-start", 2, "First elevation (deg)")
	elevEnd   = flag.Float64("elev-end", 60, "Last elevation (deg)")
	elevStep  = flag.Float64("elev-step", 2, "Elevation step (deg)")
	nhops     = flag.Int("nhops", 0, "Hops per ray (0 uses the config)")
	mode      = flag.String("mode", "", "Polarisation mode O, X or no_field (empty uses the config)")

	model        = flag.String("model", "chapman", "Ionospheric model: chapman, parabolic or vacuum")
	modelOptions = flag.String("model-options", "", "Model options as JSON, or @file")
	maxRange     = flag.Float64("max-range", 10000, "Grid maximum range (km)")
	numRange     = flag.Int("num-range", 201, "Grid range nodes")
	startHeight  = flag.Float64("start-height", 0, "Grid start height (km)")
	heightInc    = flag.Float64("height-inc", 3, "Grid height increment (km)")
	numHeights   = flag.Int("num-heights", 200, "Grid height nodes")
	doppler      = flag.Bool("doppler", true, "Generate the 5 minute grid and compute Doppler shifts")

	plotPath  = flag.String("plot", "", "Write a PNG ray plot to this path")
	htmlPath  = flag.String("html", "", "Write an interactive HTML ray plot to this path")
	plotRange = flag.Float64("plot-range", 3000, "Plot ground range limit (km)")
	plotTop   = flag.Float64("plot-top", 400, "Plot height limit (km)")
	dbPath    = flag.String("db", "", "Save the fan to this SQLite database")
	distUnits = flag.String("units", units.KM, "Summary distance units: "+units.GetValidUnitsString())
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		log.Fatalf("hfray: %v", err)
	}
}

func run(ctx context.Context, out io.Writer) error {
	if !units.IsValid(*distUnits) {
		return fmt.Errorf("invalid -units %q, want one of %s", *distUnits, units.GetValidUnitsString())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	params, err := gridParams(cfg)
	if err != nil {
		return err
	}
	grid, err := ionomodel.GenerateGrid(params)
	if err != nil {
		return fmt.Errorf("generate grid: %w", err)
	}

	traceOpts, err := tracerOptions(cfg)
	if err != nil {
		return err
	}
	tracer, err := fan.NewTracer(fanGrids(grid), traceOpts)
	if err != nil {
		return err
	}

	req, err := fanRequest(cfg)
	if err != nil {
		return err
	}
	res, err := tracer.TraceFan(ctx, req)
	if err != nil {
		return err
	}

	title := rayplot.FigureTitle(params.UT, *freq, *r12, *lat, *lon, *bearing)
	fmt.Fprintln(out, title)
	printSummary(out, req, res, *distUnits)

	if *plotPath != "" || *htmlPath != "" {
		if err := writePlots(grid, res, title); err != nil {
			return err
		}
	}
	if *dbPath != "" {
		if err := saveRun(ctx, title, req, res); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig reads -config, or the defaults file when -config is empty,
// falling back to the built-in defaults when that file is absent.
func loadConfig() (*config.TraceConfig, error) {
	if *configPath != "" {
		return config.LoadTraceConfig(*configPath)
	}
	cfg, path, err := config.LoadDefaultConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return config.DefaultTraceConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	monitoring.Debugf("loaded trace defaults from %s", path)
	return cfg, nil
}

// gridParams builds the grid request from the flags.
func gridParams(cfg *config.TraceConfig) (ionomodel.Params, error) {
	t, err := time.Parse(time.RFC3339, *ut)
	if err != nil {
		return ionomodel.Params{}, fmt.Errorf("invalid -ut: %w", err)
	}
	m, err := ionomodel.ParseModel(*model)
	if err != nil {
		return ionomodel.Params{}, err
	}
	opts, err := loadModelOptions(*modelOptions)
	if err != nil {
		return ionomodel.Params{}, err
	}
	if m != ionomodel.Vacuum && opts.IrregularitySeed == nil && cfg.IrregularitySeed != nil {
		seed := cfg.GetIrregularitySeed()
		opts.IrregularitySeed = &seed
	}
	return ionomodel.Params{
		Lat:             *lat,
		Lon:             *lon,
		R12:             *r12,
		UT:              t,
		Bearing:         *bearing,
		MaxRange:        *maxRange,
		NumRange:        *numRange,
		StartHeight:     *startHeight,
		HeightInc:       *heightInc,
		NumHeights:      *numHeights,
		Kp:              *kp,
		Doppler:         *doppler,
		DopplerInterval: cfg.GetDopplerInterval(),
		Model:           m,
		Options:         opts,
	}, nil
}

// fanGrids hands the generated grids to the tracer.
func fanGrids(out *ionomodel.Output) fan.Grids {
	return fan.Grids{Grid: out.Grid, Grid5: out.Grid5, DopplerInterval: out.DopplerInterval}
}

// loadModelOptions accepts inline JSON or @path.
func loadModelOptions(s string) (ionomodel.ModelOptions, error) {
	data := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return ionomodel.ModelOptions{}, fmt.Errorf("read model options: %w", err)
		}
	}
	return ionomodel.ParseModelOptions(data)
}

func tracerOptions(cfg *config.TraceConfig) (fan.Options, error) {
	opts := fan.Options{
		Workers:            cfg.GetWorkers(),
		MaxSteps:           cfg.GetMaxSteps(),
		Mode:               cfg.GetMode(),
		GroundPolarization: cfg.GetGroundPolarization(),
		EarthModel:         cfg.GetEarthModel(),
		TurningStep:        cfg.GetTurningStepKm(),
		DiscardPaths:       !cfg.GetRecordPaths() && *plotPath == "" && *htmlPath == "",
	}
	if *mode != "" {
		m, ok := refraction.ParseMode(*mode)
		if !ok {
			return fan.Options{}, fmt.Errorf("invalid -mode %q", *mode)
		}
		opts.Mode = m
	}
	return opts, nil
}

func fanRequest(cfg *config.TraceConfig) (fan.Request, error) {
	elevs, err := elevations(*elevStart, *elevEnd, *elevStep)
	if err != nil {
		return fan.Request{}, err
	}
	freqs := make([]float64, len(elevs))
	for i := range freqs {
		freqs[i] = *freq
	}
	hops := cfg.GetNHops()
	if *nhops > 0 {
		hops = *nhops
	}
	return fan.Request{
		OriginLat:      *lat,
		OriginLon:      *lon,
		Bearing:        *bearing,
		Elevations:     elevs,
		Frequencies:    freqs,
		NHops:          hops,
		Tolerance:      cfg.Tolerance(),
		Irregularities: cfg.GetIrregularities(),
	}, nil
}

// elevations returns start, start+step, ... up to and including end.
func elevations(start, end, step float64) ([]float64, error) {
	if !(step > 0) {
		return nil, errors.New("elevation step must be positive")
	}
	if end < start {
		return nil, fmt.Errorf("elevation range [%g, %g] is empty", start, end)
	}
	n := int((end-start)/step+1e-9) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out, nil
}

// printSummary writes one line per ray; ranges are in unit, heights in km.
func printSummary(w io.Writer, req fan.Request, res *fan.Result, unit string) {
	fmt.Fprintf(w, "%6s %10s %10s %10s %8s %9s %s\n",
		"elev", "range_"+unit, "group_"+unit, "apogee_km", "abs_dB", "dopp_Hz", "status")
	for i, rd := range res.Rays {
		fmt.Fprintf(w, "%6.1f %10.1f %10.1f %10.1f %8.2f %9.3f %s\n",
			req.Elevations[i], units.ConvertDistance(rd.GroundRange, unit), units.ConvertDistance(rd.GroupPath, unit),
			rd.Apogee, rd.Absorption, rd.DopplerShift, rd.Status)
	}
	fmt.Fprintf(w, "%d rays in %s on %d workers\n", len(res.Rays), res.Elapsed.Round(time.Millisecond), res.Workers)
}

func writePlots(grid *ionomodel.Output, res *fan.Result, title string) error {
	fig := rayplot.Figure{
		Title:      title,
		Background: rayplot.BackgroundFromGrid(grid.Grid, *plotRange, *plotTop),
		Rays:       res.Paths,
		MaxRange:   *plotRange,
		Top:        *plotTop,
	}
	if *plotPath != "" {
		if err := writeFile(*plotPath, func(w io.Writer) error { return rayplot.RenderPNG(w, fig, 0, 0) }); err != nil {
			return err
		}
		log.Printf("wrote %s", *plotPath)
	}
	if *htmlPath != "" {
		if err := writeFile(*htmlPath, func(w io.Writer) error { return rayplot.RenderHTML(w, fig) }); err != nil {
			return err
		}
		log.Printf("wrote %s", *htmlPath)
	}
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveRun(ctx context.Context, title string, req fan.Request, res *fan.Result) error {
	store, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.SaveRun(ctx, title, req, res)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	log.Printf("saved run %s to %s", id, *dbPath)
	return nil
}
