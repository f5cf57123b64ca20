package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/hfray/internal/raytrace"
	"github.com/banshee-data/hfray/internal/refraction"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultTraceConfig(t *testing.T) {
	cfg := DefaultTraceConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.ToleranceRelative == nil || *cfg.ToleranceRelative != 1e-7 {
		t.Errorf("Expected ToleranceRelative 1e-7, got %v", cfg.ToleranceRelative)
	}
	if cfg.GroundPolarization == nil || *cfg.GroundPolarization != "preserve" {
		t.Errorf("Expected GroundPolarization 'preserve', got %v", cfg.GroundPolarization)
	}

	// Every default pointer must agree with the getter fallback.
	empty := EmptyTraceConfig()
	if cfg.Tolerance() != empty.Tolerance() {
		t.Errorf("Tolerance() = %+v, empty config gives %+v", cfg.Tolerance(), empty.Tolerance())
	}
	if cfg.GetNHops() != empty.GetNHops() || cfg.GetMaxSteps() != empty.GetMaxSteps() {
		t.Errorf("hop/step defaults disagree")
	}
	if cfg.GetTurningStepKm() != empty.GetTurningStepKm() {
		t.Errorf("GetTurningStepKm() = %f, want %f", cfg.GetTurningStepKm(), empty.GetTurningStepKm())
	}
	if cfg.GetMode() != refraction.Ordinary || empty.GetMode() != refraction.Ordinary {
		t.Errorf("default mode must be O")
	}
	if cfg.GetEarthModel() != raytrace.EarthWGS84 || empty.GetEarthModel() != raytrace.EarthWGS84 {
		t.Errorf("default earth model must be wgs84")
	}
	if cfg.GetDopplerInterval() != 5*time.Minute || empty.GetDopplerInterval() != 5*time.Minute {
		t.Errorf("default doppler interval must be 5m")
	}
	if cfg.GetWorkers() != runtime.NumCPU() {
		t.Errorf("GetWorkers() = %d, want %d", cfg.GetWorkers(), runtime.NumCPU())
	}
	if !cfg.GetRecordPaths() || cfg.GetIrregularities() || cfg.GetIrregularitySeed() != 1 {
		t.Errorf("unexpected fan defaults")
	}
}

func TestLoadTraceConfig(t *testing.T) {
	path := writeConfig(t, "trace.json", `{
  "tolerance_relative": 1e-6,
  "max_step_km": 20,
  "nhops": 3,
  "mode": "X",
  "ground_polarization": "swap",
  "earth_model": "spherical",
  "doppler_interval": "90s",
  "workers": 2,
  "record_paths": false
}`)

	cfg, err := LoadTraceConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.Tolerance(); got != (raytrace.Tolerance{Relative: 1e-6, MinStep: 0.01, MaxStep: 20}) {
		t.Errorf("Tolerance() = %+v", got)
	}
	if cfg.GetNHops() != 3 {
		t.Errorf("GetNHops() = %d, want 3", cfg.GetNHops())
	}
	if cfg.GetMode() != refraction.Extraordinary {
		t.Errorf("GetMode() = %v, want X", cfg.GetMode())
	}
	if cfg.GetGroundPolarization() != raytrace.PolarizationSwap {
		t.Errorf("GetGroundPolarization() = %v, want swap", cfg.GetGroundPolarization())
	}
	if cfg.GetEarthModel() != raytrace.EarthSpherical {
		t.Errorf("GetEarthModel() = %v, want spherical", cfg.GetEarthModel())
	}
	if cfg.GetDopplerInterval() != 90*time.Second {
		t.Errorf("GetDopplerInterval() = %v, want 90s", cfg.GetDopplerInterval())
	}
	if cfg.GetWorkers() != 2 {
		t.Errorf("GetWorkers() = %d, want 2", cfg.GetWorkers())
	}
	if cfg.GetRecordPaths() {
		t.Errorf("GetRecordPaths() = true, want false")
	}
	// omitted keys keep their defaults
	if cfg.GetMaxSteps() != 20000 {
		t.Errorf("GetMaxSteps() = %d, want 20000", cfg.GetMaxSteps())
	}
}

func TestLoadTraceConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "trace.yaml", `{}`, ".json extension"},
		{"unknown key", "trace.json", `{"model_name": "chapman"}`, "unknown field"},
		{"bad json", "trace.json", `{"nhops": }`, "failed to parse"},
		{"min above max", "trace.json", `{"min_step_km": 20, "max_step_km": 10}`, "tolerance"},
		{"zero hops", "trace.json", `{"nhops": 0}`, "nhops"},
		{"mode", "trace.json", `{"mode": "Z"}`, "invalid mode"},
		{"polarization", "trace.json", `{"ground_polarization": "mirror"}`, "ground_polarization"},
		{"earth", "trace.json", `{"earth_model": "flat"}`, "earth_model"},
		{"doppler", "trace.json", `{"doppler_interval": "soon"}`, "doppler_interval"},
		{"workers", "trace.json", `{"workers": -1}`, "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadTraceConfig(writeConfig(t, tc.file, tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestLoadTraceConfig_Missing(t *testing.T) {
	if _, err := LoadTraceConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	def := DefaultTraceConfig()
	if cfg.Tolerance() != def.Tolerance() {
		t.Errorf("defaults file tolerance %+v, want %+v", cfg.Tolerance(), def.Tolerance())
	}
	if cfg.GetNHops() != def.GetNHops() || cfg.GetMaxSteps() != def.GetMaxSteps() {
		t.Errorf("defaults file disagrees with DefaultTraceConfig")
	}
	if *cfg.Mode != *def.Mode || *cfg.EarthModel != *def.EarthModel || *cfg.DopplerInterval != *def.DopplerInterval {
		t.Errorf("defaults file strings disagree with DefaultTraceConfig")
	}
}

func TestLoadDefaultConfigFromCommandDir(t *testing.T) {
	chdirForTest(t, filepath.Join("..", "..", "cmd", "hfray"))
	cfg, path, err := LoadDefaultConfig()
	if err != nil {
		t.Fatalf("LoadDefaultConfig: %v", err)
	}
	if !strings.HasSuffix(path, DefaultConfigPath) {
		t.Errorf("loaded %q, want a path ending in %s", path, DefaultConfigPath)
	}
	if cfg.GetDopplerInterval() != 5*time.Minute {
		t.Errorf("doppler interval %v, want 5m", cfg.GetDopplerInterval())
	}
}

func TestLoadDefaultConfig_Missing(t *testing.T) {
	chdirForTest(t, t.TempDir())
	if _, _, err := LoadDefaultConfig(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
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
