package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/hfray/internal/config"
	"github.com/banshee-data/hfray/internal/fan"
	"github.com/banshee-data/hfray/internal/ionomodel"
	"github.com/banshee-data/hfray/internal/raytrace"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/storage/sqlite"
	"github.com/banshee-data/hfray/internal/units"
)

// setFlags overrides flag values for the duration of a test.
func setFlags(t *testing.T, values map[string]string) {
	t.Helper()
	for name, v := range values {
		f := flag.Lookup(name)
		if f == nil {
			t.Fatalf("flag %q not defined", name)
		}
		old := f.Value.String()
		if err := flag.Set(name, v); err != nil {
			t.Fatalf("set -%s=%s: %v", name, v, err)
		}
		t.Cleanup(func() { flag.Set(name, old) })
	}
}

// TestReferenceFanDefaults verifies the flags default to the 15 MHz fan
// over central Australia.
func TestReferenceFanDefaults(t *testing.T) {
	want := map[string]string{
		"lat":          "-23.5",
		"lon":          "133.7",
		"bearing":      "324.7",
		"ut":           "2001-03-15T07:00:00Z",
		"r12":          "100",
		"freq":         "15",
		"elev-start":   "2",
		"elev-end":     "60",
		"elev-step":    "2",
		"max-range":    "10000",
		"num-range":    "201",
		"height-inc":   "3",
		"num-heights":  "200",
		"doppler":      "true",
		"model":        "chapman",
		"plot-range":   "3000",
		"plot-top":     "400",
		"start-height": "0",
	}
	for name, v := range want {
		f := flag.Lookup(name)
		if f == nil {
			t.Errorf("flag %q not defined", name)
			continue
		}
		if f.DefValue != v {
			t.Errorf("flag %q default = %q, want %q", name, f.DefValue, v)
		}
	}
}

func TestElevations(t *testing.T) {
	got, err := elevations(2, 60, 2)
	if err != nil {
		t.Fatalf("elevations: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("expected 30 elevations, got %d", len(got))
	}
	if got[0] != 2 || got[29] != 60 {
		t.Errorf("expected 2..60, got %v..%v", got[0], got[29])
	}

	single, err := elevations(5, 5, 1)
	if err != nil || len(single) != 1 {
		t.Errorf("expected one elevation, got %v (err %v)", single, err)
	}

	if _, err := elevations(0, 10, 0); err == nil {
		t.Error("expected error for zero step")
	}
	if _, err := elevations(10, 0, 1); err == nil {
		t.Error("expected error for empty range")
	}
}

func TestLoadModelOptions(t *testing.T) {
	o, err := loadModelOptions(`{"foF2": 7}`)
	if err != nil {
		t.Fatalf("inline options: %v", err)
	}
	if o.FoF2 == nil || *o.FoF2 != 7 {
		t.Errorf("expected foF2 7, got %v", o.FoF2)
	}

	path := filepath.Join(t.TempDir(), "opts.json")
	if err := os.WriteFile(path, []byte(`{"hmF2": 320}`), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err = loadModelOptions("@" + path)
	if err != nil {
		t.Fatalf("file options: %v", err)
	}
	if o.HmF2 == nil || *o.HmF2 != 320 {
		t.Errorf("expected hmF2 320, got %v", o.HmF2)
	}

	if _, err := loadModelOptions("@" + filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing options file")
	}
	if _, err := loadModelOptions(`{"unknown": 1}`); err == nil {
		t.Error("expected error for unknown option")
	}
}

func TestGridParams(t *testing.T) {
	cfg := config.DefaultTraceConfig()
	p, err := gridParams(cfg)
	if err != nil {
		t.Fatalf("gridParams: %v", err)
	}
	if p.Model != ionomodel.Chapman {
		t.Errorf("expected chapman model, got %s", p.Model)
	}
	if !p.UT.Equal(time.Date(2001, 3, 15, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected UT %v", p.UT)
	}
	if p.Options.IrregularitySeed == nil || *p.Options.IrregularitySeed != 1 {
		t.Errorf("expected irregularity seed from config, got %v", p.Options.IrregularitySeed)
	}
	if p.DopplerInterval != 5*time.Minute {
		t.Errorf("expected 5m doppler interval, got %v", p.DopplerInterval)
	}

	setFlags(t, map[string]string{"ut": "yesterday"})
	if _, err := gridParams(cfg); err == nil {
		t.Error("expected error for invalid UT")
	}
}

func TestLoadConfig(t *testing.T) {
	// the command directory finds the repository defaults file
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetDopplerInterval() != 5*time.Minute || cfg.GetNHops() != 1 {
		t.Errorf("unexpected defaults: doppler %v nhops %d", cfg.GetDopplerInterval(), cfg.GetNHops())
	}

	path := filepath.Join(t.TempDir(), "trace.json")
	if err := os.WriteFile(path, []byte(`{"doppler_interval": "90s"}`), 0644); err != nil {
		t.Fatal(err)
	}
	setFlags(t, map[string]string{"config": path})
	cfg, err = loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	p, err := gridParams(cfg)
	if err != nil {
		t.Fatalf("gridParams: %v", err)
	}
	if p.DopplerInterval != 90*time.Second {
		t.Errorf("expected 90s doppler interval, got %v", p.DopplerInterval)
	}
}

func TestLoadConfigWithoutDefaultsFile(t *testing.T) {
	chdirForTest(t, t.TempDir())
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetMaxSteps() != config.DefaultTraceConfig().GetMaxSteps() {
		t.Errorf("expected built-in defaults, got max_steps %d", cfg.GetMaxSteps())
	}
}

func TestDopplerIntervalFromConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("traces a fan")
	}
	setFlags(t, map[string]string{
		"model":         "parabolic",
		"model-options": `{"foF2": 8, "hmF2": 300, "ymF2": 100, "foF2_rate": 1}`,
		"max-range":     "3000",
		"num-range":     "61",
		"num-heights":   "150",
		"elev-start":    "20",
		"elev-end":      "20",
	})

	traceWith := func(interval string) (time.Duration, raytrace.RayData) {
		t.Helper()
		cfg := config.DefaultTraceConfig()
		cfg.DopplerInterval = &interval
		params, err := gridParams(cfg)
		if err != nil {
			t.Fatalf("gridParams: %v", err)
		}
		grid, err := ionomodel.GenerateGrid(params)
		if err != nil {
			t.Fatalf("GenerateGrid: %v", err)
		}
		opts, err := tracerOptions(cfg)
		if err != nil {
			t.Fatalf("tracerOptions: %v", err)
		}
		tr, err := fan.NewTracer(fanGrids(grid), opts)
		if err != nil {
			t.Fatalf("NewTracer: %v", err)
		}
		req, err := fanRequest(cfg)
		if err != nil {
			t.Fatalf("fanRequest: %v", err)
		}
		res, err := tr.TraceFan(context.Background(), req)
		if err != nil {
			t.Fatalf("TraceFan: %v", err)
		}
		if len(res.Rays) != 1 {
			t.Fatalf("expected 1 ray, got %d", len(res.Rays))
		}
		return tr.Grids().DopplerInterval, res.Rays[0]
	}

	d5, ray5 := traceWith("5m")
	d90, ray90 := traceWith("90s")
	if d5 != 5*time.Minute || d90 != 90*time.Second {
		t.Errorf("tracer intervals %v and %v, want 5m and 90s", d5, d90)
	}
	for _, ray := range []raytrace.RayData{ray5, ray90} {
		if ray.Status != raytrace.Completed || !ray.HasDoppler {
			t.Fatalf("expected a completed ray with doppler, got %s (doppler %v)", ray.Status, ray.HasDoppler)
		}
		// a growing layer shortens the phase path
		if ray.DopplerShift <= 0 {
			t.Errorf("expected a positive doppler shift, got %g", ray.DopplerShift)
		}
	}
	if ray5.DopplerShift == ray90.DopplerShift {
		t.Errorf("doppler shift %g did not change with the interval", ray5.DopplerShift)
	}
}

func TestTracerOptionsModeOverride(t *testing.T) {
	cfg := config.DefaultTraceConfig()
	setFlags(t, map[string]string{"mode": "X"})
	opts, err := tracerOptions(cfg)
	if err != nil {
		t.Fatalf("tracerOptions: %v", err)
	}
	if opts.Mode != refraction.Extraordinary {
		t.Errorf("expected X mode, got %s", opts.Mode)
	}

	setFlags(t, map[string]string{"mode": "Z"})
	if _, err := tracerOptions(cfg); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPrintSummary(t *testing.T) {
	req := fan.Request{Elevations: []float64{10, 20}}
	res := &fan.Result{
		Rays: []raytrace.RayData{
			{Status: raytrace.Completed, GroundRange: 1234.5},
			{Status: raytrace.Escaped},
		},
		Elapsed: 1500 * time.Millisecond,
		Workers: 2,
	}
	var buf bytes.Buffer
	printSummary(&buf, req, res, units.KM)
	out := buf.String()
	for _, want := range []string{"range_km", "COMPLETED", "ESCAPED", "1234.5", "2 rays in 1.5s on 2 workers"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSummary(&buf, req, res, units.NMI)
	if !strings.Contains(buf.String(), "range_nmi") || !strings.Contains(buf.String(), "666.6") {
		t.Errorf("expected nautical miles in summary:\n%s", buf.String())
	}
}

func TestRunRejectsUnknownUnits(t *testing.T) {
	setFlags(t, map[string]string{"units": "furlong"})
	if err := run(context.Background(), &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown units")
	}
}

func TestRunWritesPlotsAndStore(t *testing.T) {
	if testing.Short() {
		t.Skip("traces a fan")
	}
	dir := t.TempDir()
	png := filepath.Join(dir, "fan.png")
	html := filepath.Join(dir, "fan.html")
	db := filepath.Join(dir, "fan.db")
	setFlags(t, map[string]string{
		"model":         "parabolic",
		"model-options": `{"foF2": 8, "hmF2": 300, "ymF2": 100}`,
		"max-range":     "3000",
		"num-range":     "61",
		"num-heights":   "150",
		"elev-start":    "10",
		"elev-end":      "50",
		"elev-step":     "20",
		"plot":          png,
		"html":          html,
		"db":            db,
	})

	var buf bytes.Buffer
	if err := run(context.Background(), &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "3/15/2001  07:00UT   15MHz   R12 = 100") {
		t.Errorf("missing title in output:\n%s", out)
	}
	if !strings.Contains(out, "3 rays in") {
		t.Errorf("missing summary in output:\n%s", out)
	}

	for _, path := range []string{png, html} {
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Errorf("expected %s to be written (err %v)", path, err)
		}
	}

	store, err := sqlite.Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].NumRays != 3 {
		t.Errorf("expected one stored run of 3 rays, got %+v", runs)
	}
}

// chdirForTest changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent to testing.T.Chdir in Go 1.24+).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
