package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/banshee-data/hfray/internal/raytrace"
	"github.com/banshee-data/hfray/internal/refraction"
)

// DefaultConfigPath is the path to the canonical trace defaults file.
const DefaultConfigPath = "config/trace.defaults.json"

// TraceConfig holds the integration and fan settings. Every field is
// optional; the Get* methods supply defaults for fields left out of the
// JSON, so partial configs are safe.
type TraceConfig struct {
	// Integrator
	ToleranceRelative *float64 `json:"tolerance_relative,omitempty"`
	MinStepKm         *float64 `json:"min_step_km,omitempty"`
	MaxStepKm         *float64 `json:"max_step_km,omitempty"`
	TurningStepKm     *float64 `json:"turning_step_km,omitempty"`
	MaxSteps          *int     `json:"max_steps,omitempty"`

	// Propagation
	NHops              *int    `json:"nhops,omitempty"`
	Mode               *string `json:"mode,omitempty"`                // "O", "X" or "no_field"
	GroundPolarization *string `json:"ground_polarization,omitempty"` // preserve|swap|ordinary|extraordinary
	EarthModel         *string `json:"earth_model,omitempty"`         // "wgs84" or "spherical"

	// Medium
	Irregularities   *bool   `json:"irregularities,omitempty"`
	IrregularitySeed *uint64 `json:"irregularity_seed,omitempty"`
	DopplerInterval  *string `json:"doppler_interval,omitempty"` // duration string like "5m"

	// Fan
	Workers     *int  `json:"workers,omitempty"`
	RecordPaths *bool `json:"record_paths,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTraceConfig returns a TraceConfig with all fields set to nil.
func EmptyTraceConfig() *TraceConfig {
	return &TraceConfig{}
}

// DefaultTraceConfig returns a TraceConfig with every field set to the
// value the Get* methods fall back to.
func DefaultTraceConfig() *TraceConfig {
	return &TraceConfig{
		ToleranceRelative:  ptrFloat64(1e-7),
		MinStepKm:          ptrFloat64(0.01),
		MaxStepKm:          ptrFloat64(10),
		TurningStepKm:      ptrFloat64(raytrace.DefaultTurningStep),
		MaxSteps:           ptrInt(20000),
		NHops:              ptrInt(1),
		Mode:               ptrString("O"),
		GroundPolarization: ptrString("preserve"),
		EarthModel:         ptrString("wgs84"),
		Irregularities:     ptrBool(false),
		IrregularitySeed:   ptrUint64(1),
		DopplerInterval:    ptrString("5m"),
		Workers:            ptrInt(0),
		RecordPaths:        ptrBool(true),
	}
}

// LoadTraceConfig loads a TraceConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Unknown keys are rejected.
func LoadTraceConfig(path string) (*TraceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTraceConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfigCandidates are the locations of DefaultConfigPath tried from
// the repository root, a command directory and package directories.
var defaultConfigCandidates = []string{
	DefaultConfigPath,
	"../" + DefaultConfigPath,
	"../../" + DefaultConfigPath,    // from internal/config/, cmd/hfray/
	"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
}

// LoadDefaultConfig loads the canonical trace defaults from
// DefaultConfigPath, searching the current directory and its parents. It
// returns the path it loaded. When no file exists the error wraps
// fs.ErrNotExist.
func LoadDefaultConfig() (*TraceConfig, string, error) {
	for _, path := range defaultConfigCandidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadTraceConfig(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}
	return nil, "", fmt.Errorf("cannot find %s: %w", DefaultConfigPath, fs.ErrNotExist)
}

// MustLoadDefaultConfig is LoadDefaultConfig for test setup. Panics if the
// file cannot be loaded.
func MustLoadDefaultConfig() *TraceConfig {
	cfg, _, err := LoadDefaultConfig()
	if err != nil {
		panic(err.Error() + " - run tests from repository root")
	}
	return cfg
}

// Validate checks that the configuration values are valid.
func (c *TraceConfig) Validate() error {
	if err := c.Tolerance().Validate(); err != nil {
		return fmt.Errorf("tolerance: %w", err)
	}
	if c.TurningStepKm != nil && !(*c.TurningStepKm > 0) {
		return fmt.Errorf("turning_step_km must be positive, got %f", *c.TurningStepKm)
	}
	if c.MaxSteps != nil && *c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative, got %d", *c.MaxSteps)
	}
	if c.NHops != nil && *c.NHops < 1 {
		return fmt.Errorf("nhops must be at least 1, got %d", *c.NHops)
	}
	if c.Mode != nil {
		if _, ok := refraction.ParseMode(*c.Mode); !ok {
			return fmt.Errorf("invalid mode %q", *c.Mode)
		}
	}
	if c.GroundPolarization != nil {
		if _, ok := raytrace.ParsePolarization(*c.GroundPolarization); !ok {
			return fmt.Errorf("invalid ground_polarization %q", *c.GroundPolarization)
		}
	}
	if c.EarthModel != nil {
		if _, ok := raytrace.ParseEarthModel(*c.EarthModel); !ok {
			return fmt.Errorf("invalid earth_model %q", *c.EarthModel)
		}
	}
	if c.DopplerInterval != nil && *c.DopplerInterval != "" {
		d, err := time.ParseDuration(*c.DopplerInterval)
		if err != nil {
			return fmt.Errorf("invalid doppler_interval '%s': %w", *c.DopplerInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("doppler_interval must be positive, got %s", d)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// Tolerance returns the integrator tolerance triple.
func (c *TraceConfig) Tolerance() raytrace.Tolerance {
	return raytrace.Tolerance{
		Relative: c.GetToleranceRelative(),
		MinStep:  c.GetMinStepKm(),
		MaxStep:  c.GetMaxStepKm(),
	}
}

// GetToleranceRelative returns the tolerance_relative value or the default.
func (c *TraceConfig) GetToleranceRelative() float64 {
	if c.ToleranceRelative == nil {
		return 1e-7
	}
	return *c.ToleranceRelative
}

// GetMinStepKm returns the min_step_km value or the default.
func (c *TraceConfig) GetMinStepKm() float64 {
	if c.MinStepKm == nil {
		return 0.01
	}
	return *c.MinStepKm
}

// GetMaxStepKm returns the max_step_km value or the default.
func (c *TraceConfig) GetMaxStepKm() float64 {
	if c.MaxStepKm == nil {
		return 10
	}
	return *c.MaxStepKm
}

// GetTurningStepKm returns the turning_step_km value or the default.
func (c *TraceConfig) GetTurningStepKm() float64 {
	if c.TurningStepKm == nil {
		return raytrace.DefaultTurningStep
	}
	return *c.TurningStepKm
}

// GetMaxSteps returns the max_steps value or the default.
func (c *TraceConfig) GetMaxSteps() int {
	if c.MaxSteps == nil {
		return 20000
	}
	return *c.MaxSteps
}

// GetNHops returns the nhops value or the default.
func (c *TraceConfig) GetNHops() int {
	if c.NHops == nil {
		return 1
	}
	return *c.NHops
}

// GetMode returns the magneto-ionic mode, O by default.
func (c *TraceConfig) GetMode() refraction.Mode {
	if c.Mode == nil {
		return refraction.Ordinary
	}
	m, ok := refraction.ParseMode(*c.Mode)
	if !ok {
		return refraction.Ordinary // default on parse error
	}
	return m
}

// GetGroundPolarization returns the ground reflection rule, preserve by
// default.
func (c *TraceConfig) GetGroundPolarization() raytrace.Polarization {
	if c.GroundPolarization == nil {
		return raytrace.PolarizationPreserve
	}
	p, _ := raytrace.ParsePolarization(*c.GroundPolarization)
	return p
}

// GetEarthModel returns the earth model, WGS84 by default.
func (c *TraceConfig) GetEarthModel() raytrace.EarthModel {
	if c.EarthModel == nil {
		return raytrace.EarthWGS84
	}
	m, ok := raytrace.ParseEarthModel(*c.EarthModel)
	if !ok {
		return raytrace.EarthWGS84
	}
	return m
}

// GetIrregularities returns the irregularities value or the default.
func (c *TraceConfig) GetIrregularities() bool {
	if c.Irregularities == nil {
		return false
	}
	return *c.Irregularities
}

// GetIrregularitySeed returns the irregularity_seed value or the default.
func (c *TraceConfig) GetIrregularitySeed() uint64 {
	if c.IrregularitySeed == nil {
		return 1
	}
	return *c.IrregularitySeed
}

// GetDopplerInterval parses and returns the DopplerInterval as a
// time.Duration.
func (c *TraceConfig) GetDopplerInterval() time.Duration {
	if c.DopplerInterval == nil || *c.DopplerInterval == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.DopplerInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// GetWorkers returns the worker count, runtime.NumCPU() when unset or zero.
func (c *TraceConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetRecordPaths returns the record_paths value or the default.
func (c *TraceConfig) GetRecordPaths() bool {
	if c.RecordPaths == nil {
		return true
	}
	return *c.RecordPaths
}
