// Package fan traces a fan of rays sharing an origin and bearing against
// a shared, read-only ionosphere grid.
package fan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/monitoring"
	"github.com/banshee-data/hfray/internal/raytrace"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/timeutil"
)

// DefaultDopplerInterval is the separation assumed between the two grids
// when none is given.
const DefaultDopplerInterval = 5 * time.Minute

// ConfigurationError reports an invalid fan request. It is the only error
// that aborts a fan; numerical failures are reported per ray.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid fan configuration: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Grids are the media a Tracer traces through.
type Grids struct {
	Grid *iono.Grid
	// Grid5 is the same ionosphere DopplerInterval later. Optional.
	Grid5           *iono.Grid
	DopplerInterval time.Duration
}

// Options are the Tracer settings that do not change between fans.
type Options struct {
	Workers            int // 0 means runtime.NumCPU()
	MaxSteps           int
	Mode               refraction.Mode
	GroundPolarization raytrace.Polarization
	EarthModel         raytrace.EarthModel
	TurningStep        float64 // km, 0 for raytrace.DefaultTurningStep
	// DiscardPaths drops the per-ray path records from results.
	DiscardPaths bool
	Clock        timeutil.Clock
}

// Request is one fan.
type Request struct {
	OriginLat   float64 // deg
	OriginLon   float64 // deg
	Bearing     float64 // deg from north
	Elevations  []float64
	Frequencies []float64 // MHz, one per elevation
	NHops       int
	Tolerance   raytrace.Tolerance
	// Irregularities enables the grid's irregularity perturbation.
	Irregularities bool
	// Resume, when set, holds one terminal state per ray to continue from.
	Resume []raytrace.RayState
}

// Result holds per-ray outputs indexed like Request.Elevations.
type Result struct {
	Rays  []raytrace.RayData
	Paths []raytrace.RayRecord
	Final []raytrace.RayState

	Elapsed time.Duration
	Workers int
}

// Tracer traces fans against fixed grids. It is safe for concurrent use.
type Tracer struct {
	grids     Grids
	opts      Options
	plain     *refraction.Evaluator
	irregular *refraction.Evaluator
}

// NewTracer validates the grids and returns a Tracer that reuses them for
// every fan.
func NewTracer(grids Grids, opts Options) (*Tracer, error) {
	g := grids.Grid
	if g == nil {
		return nil, configErr("grid", "no ionosphere grid supplied")
	}
	if g.StartRange() > 0 {
		return nil, configErr("grid", "grid starts at range %g km, must include the origin", g.StartRange())
	}
	if g5 := grids.Grid5; g5 != nil {
		if g5.NumRange() != g.NumRange() || g5.NumHeight() != g.NumHeight() ||
			g5.RangeInc() != g.RangeInc() || g5.HeightInc() != g.HeightInc() ||
			g5.StartRange() != g.StartRange() || g5.StartHeight() != g.StartHeight() {
			return nil, configErr("grid_5", "second grid does not match the first grid's geometry")
		}
		if grids.DopplerInterval < 0 {
			return nil, configErr("doppler_interval", "must be positive, got %s", grids.DopplerInterval)
		}
		if grids.DopplerInterval == 0 {
			grids.DopplerInterval = DefaultDopplerInterval
		}
	}
	if opts.Workers < 0 {
		return nil, configErr("workers", "must be non-negative, got %d", opts.Workers)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxSteps < 0 {
		return nil, configErr("max_steps", "must be non-negative, got %d", opts.MaxSteps)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	return &Tracer{
		grids:     grids,
		opts:      opts,
		plain:     refraction.NewEvaluator(g, grids.Grid5, false),
		irregular: refraction.NewEvaluator(g, grids.Grid5, true),
	}, nil
}

// Grids returns the tracer's grids.
func (t *Tracer) Grids() Grids { return t.grids }

func (t *Tracer) validate(req Request) error {
	n := len(req.Elevations)
	if len(req.Frequencies) != n {
		return configErr("frequencies", "got %d frequencies for %d elevations", len(req.Frequencies), n)
	}
	if req.NHops < 1 {
		return configErr("nhops", "must be at least 1, got %d", req.NHops)
	}
	if err := req.Tolerance.Validate(); err != nil {
		return configErr("tolerance", "%v", err)
	}
	if math.IsNaN(req.OriginLat) || math.Abs(req.OriginLat) > 90 {
		return configErr("origin_lat", "must be within ±90°, got %g", req.OriginLat)
	}
	if math.IsNaN(req.OriginLon) || math.IsNaN(req.Bearing) {
		return configErr("origin", "longitude and bearing must be numbers")
	}
	for i, el := range req.Elevations {
		if !(el >= 0 && el <= 90) {
			return configErr("elevations", "elevation %d is %g°, must be within [0, 90]", i, el)
		}
		if f := req.Frequencies[i]; !(f > 0) || math.IsInf(f, 0) {
			return configErr("frequencies", "frequency %d is %g MHz, must be positive", i, f)
		}
	}
	if req.Irregularities && !t.grids.Grid.HasIrregularities() {
		return configErr("irregularities", "grid has no irregularity profile")
	}
	if req.Resume != nil {
		if len(req.Resume) != n {
			return configErr("resume", "got %d resume states for %d elevations", len(req.Resume), n)
		}
		for i, s := range req.Resume {
			if !(s.Radius > 0) {
				return configErr("resume", "state %d has no integration vector", i)
			}
		}
	}
	return nil
}

// TraceFan traces every ray of req. Only a *ConfigurationError or a context
// cancelled before all rays were dispatched returns an error; per-ray
// failures are reported in each RayData's status.
func (t *Tracer) TraceFan(ctx context.Context, req Request) (*Result, error) {
	if err := t.validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fan cancelled before dispatch: %w", err)
	}

	n := len(req.Elevations)
	workers := t.opts.Workers
	if workers > n {
		workers = n
	}
	res := &Result{
		Rays:    make([]raytrace.RayData, n),
		Final:   make([]raytrace.RayState, n),
		Workers: workers,
	}
	if !t.opts.DiscardPaths {
		res.Paths = make([]raytrace.RayRecord, n)
	}

	eval := t.plain
	if req.Irregularities {
		eval = t.irregular
	}
	geo := raytrace.NewGeometry(req.OriginLat, req.OriginLon, req.Bearing, t.opts.EarthModel)
	mgr := raytrace.NewHopManager(eval, geo, raytrace.Options{
		Tolerance:          req.Tolerance,
		NHops:              req.NHops,
		MaxSteps:           t.opts.MaxSteps,
		Mode:               t.opts.Mode,
		GroundPolarization: t.opts.GroundPolarization,
		TurningStep:        t.opts.TurningStep,
		DopplerInterval:    t.grids.DopplerInterval.Seconds(),
	})

	monitoring.Logf("fan: tracing %d rays from (%.3f, %.3f) bearing %.1f° on %d workers",
		n, req.OriginLat, req.OriginLon, req.Bearing, workers)
	start := t.opts.Clock.Now()

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				launch := raytrace.Launch{Elevation: req.Elevations[i], Frequency: req.Frequencies[i]}
				if req.Resume != nil {
					s := req.Resume[i]
					launch.Resume = &s
				}
				out := mgr.Trace(launch)
				res.Rays[i] = out.Data
				res.Final[i] = out.Final
				if res.Paths != nil {
					res.Paths[i] = out.Record
				}
				logAbnormal(i, launch, out)
			}
		}()
	}

	var cancelled error
dispatch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		default:
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return nil, fmt.Errorf("fan cancelled before dispatch: %w", cancelled)
	}

	res.Elapsed = t.opts.Clock.Since(start)
	monitoring.Logf("fan: %d rays in %s: %s", n, res.Elapsed, summarise(res.Rays))
	return res, nil
}

// TraceFan builds a Tracer for one fan. Callers tracing several fans over
// the same grids should keep a Tracer instead.
func TraceFan(ctx context.Context, req Request, grids Grids, opts Options) (*Result, error) {
	t, err := NewTracer(grids, opts)
	if err != nil {
		return nil, err
	}
	return t.TraceFan(ctx, req)
}

func logAbnormal(i int, l raytrace.Launch, out raytrace.Outcome) {
	switch out.Data.Status {
	case raytrace.Diverged, raytrace.StepLimitExceeded, raytrace.RangeExceeded:
		msg := fmt.Sprintf("fan: ray %d (%.2f°, %.3f MHz) ended %s after %d steps",
			i, l.Elevation, l.Frequency, out.Data.Status, len(out.Record))
		var ie *raytrace.IntegrationError
		if errors.As(out.Err, &ie) {
			msg += ": " + ie.Error()
		}
		monitoring.Logf("%s", msg)
	}
}

// summarise counts rays by status in status order.
func summarise(rays []raytrace.RayData) string {
	counts := make(map[raytrace.Status]int)
	for _, r := range rays {
		counts[r.Status]++
	}
	s := ""
	for st := raytrace.Propagating; st <= raytrace.Completed; st++ {
		if c := counts[st]; c > 0 {
			if s != "" {
				s += ", "
			}
			s += fmt.Sprintf("%d %s", c, st)
		}
	}
	return s
}
