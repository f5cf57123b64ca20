package raytrace

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVacuumRayIsStraight(t *testing.T) {
	t.Parallel()
	g := testutil.VacuumGrid(t, 5000)

	for _, elev := range []float64{2, 20, 60} {
		out := trace(t, g, testOptions(), elev, 10)
		require.Equal(t, Escaped, out.Data.Status, "elevation %v", elev)
		assert.InDelta(t, g.Top(), out.Final.Height, 1e-9)
		assert.Equal(t, Escaped, out.Final.Event)

		R := MeanEarthRadius
		a := elev * math.Pi / 180
		for _, s := range out.Record {
			// straight line from the ground at elevation a
			theta := math.Acos(R*math.Cos(a)/(R+s.Height)) - a
			slant := math.Sqrt((R+s.Height)*(R+s.Height)-R*R*math.Cos(a)*math.Cos(a)) - R*math.Sin(a)
			assert.InDelta(t, R*theta, s.GroundRange, 0.01, "elevation %v", elev)
			assert.InDelta(t, slant, s.GroupPath, 0.01, "elevation %v", elev)
			assert.InDelta(t, s.GroupPath, s.PhasePath, 1e-6)
			assert.InDelta(t, s.GroupPath, s.GeometricPath, 1e-6)
		}
		assert.Zero(t, out.Data.Absorption)
		assert.Zero(t, out.Data.HopsCompleted)
	}
}

func TestParabolicLayerVerticalReflection(t *testing.T) {
	t.Parallel()
	const f = 8.0
	g := layerGrid(t, 500)

	out := trace(t, g, testOptions(), 90, f)
	require.Equal(t, Completed, out.Data.Status, "err: %v", out.Err)

	want := fLayer.ReflectionHeight(f)
	assert.InDelta(t, want, out.Data.Apogee, 0.05)
	require.Len(t, out.Data.Hops, 1)
	hop := out.Data.Hops[0]
	assert.InDelta(t, want, hop.Apogee, 0.05)
	assert.InDelta(t, f, hop.PlasmaFreqApogee, 0.05)
	assert.InDelta(t, hop.GroupRange/2, hop.VirtualHeight, 1e-6)
	// group delay in the layer puts the virtual height above the true one
	assert.Greater(t, hop.VirtualHeight, want)
	assert.Less(t, hop.GroundRange, 1.0)
	assert.Equal(t, GroundHit, out.Final.Event)
	assert.Zero(t, out.Final.Height)
}

func TestAboveCriticalFrequencyEscapes(t *testing.T) {
	t.Parallel()
	g := layerGrid(t, 500)

	out := trace(t, g, testOptions(), 90, 15)
	assert.Equal(t, Escaped, out.Data.Status)
	assert.Zero(t, out.Data.HopsCompleted)
	assert.Greater(t, out.Data.GroupPath, out.Data.PhasePath, "group path is retarded in the layer")
}

func TestEscapeDoesNotDependOnGridTop(t *testing.T) {
	t.Parallel()
	cases := []struct {
		elev, freq float64
	}{
		{90, 15},
		{60, 15},
		{90, 11},
	}
	for _, top := range []float64{350, 390, 399, 400, 401, 450} {
		g := testutil.LayerGrid(t, testutil.GridOptions{MaxRange: 3000, Top: top}, fLayer)
		for _, tc := range cases {
			out := trace(t, g, testOptions(), tc.elev, tc.freq)
			require.Equal(t, Escaped, out.Data.Status, "top %v elevation %v freq %v: %v", top, tc.elev, tc.freq, out.Err)
			assert.InDelta(t, top, out.Final.Height, 1e-9)
			assert.Zero(t, out.Data.HopsCompleted)
		}
	}
}

func TestStepSizeStaysWithinTolerance(t *testing.T) {
	t.Parallel()
	g := layerGrid(t, 3000)
	opts := testOptions()
	opts.NHops = 2

	out := trace(t, g, opts, 30, 8)
	require.Equal(t, Completed, out.Data.Status, "err: %v", out.Err)

	tol := opts.Tolerance
	steps := 0
	for i := 1; i < len(out.Record); i++ {
		prev, cur := out.Record[i-1], out.Record[i]
		// ground landings are bisected and reflections add no path
		if cur.Event == GroundHit || prev.Event == GroundHit {
			continue
		}
		step := cur.GroupPath - prev.GroupPath
		assert.GreaterOrEqual(t, step, tol.MinStep-1e-9, "step %d", i)
		assert.LessOrEqual(t, step, tol.MaxStep+1e-9, "step %d", i)
		steps++
	}
	assert.Greater(t, steps, 20)
}

func TestAccumulatorsAreNonDecreasing(t *testing.T) {
	t.Parallel()
	g := layerGrid(t, 3000)
	opts := testOptions()
	opts.NHops = 2

	out := trace(t, g, opts, 30, 8)
	require.Equal(t, Completed, out.Data.Status, "err: %v", out.Err)
	require.Equal(t, 2, out.Data.HopsCompleted)
	require.Len(t, out.Data.Hops, 2)

	for i := 1; i < len(out.Record); i++ {
		prev, cur := out.Record[i-1], out.Record[i]
		assert.GreaterOrEqual(t, cur.GroupPath, prev.GroupPath)
		assert.GreaterOrEqual(t, cur.PhasePath, prev.PhasePath)
		assert.GreaterOrEqual(t, cur.GeometricPath, prev.GeometricPath)
		assert.GreaterOrEqual(t, cur.NonDeviativeAbsorption, prev.NonDeviativeAbsorption)
		assert.GreaterOrEqual(t, cur.DeviativeAbsorption, prev.DeviativeAbsorption)
		assert.GreaterOrEqual(t, cur.TEC, prev.TEC)
		assert.GreaterOrEqual(t, cur.Hop, prev.Hop)
		assert.LessOrEqual(t, cur.Hop, opts.NHops)
		assert.GreaterOrEqual(t, cur.Height, 0.0)
	}

	h1, h2 := out.Data.Hops[0], out.Data.Hops[1]
	assert.InEpsilon(t, h1.GroundRange, h2.GroundRange, 0.01)
	assert.InEpsilon(t, h1.GroupRange, h2.GroupRange, 0.01)
	assert.InDelta(t, 30, h1.InitialElevation, 1e-9)
	assert.InDelta(t, -30, h1.FinalElevation, 0.1)
	assert.InDelta(t, out.Data.GroundRange, h1.GroundRange+h2.GroundRange, 1e-6)
	assert.Greater(t, out.Data.TEC, 0.0)
}

func TestStepLimit(t *testing.T) {
	t.Parallel()
	g := testutil.VacuumGrid(t, 5000)
	opts := testOptions()
	opts.MaxSteps = 5

	out := trace(t, g, opts, 45, 10)
	assert.Equal(t, StepLimitExceeded, out.Data.Status)
	assert.Len(t, out.Record, 5)
	assert.Equal(t, out.Record[4], out.Final)
}

func TestDivergesWhenToleranceUnreachable(t *testing.T) {
	t.Parallel()
	g := layerGrid(t, 3000)
	opts := testOptions()
	opts.Tolerance = Tolerance{Relative: 1e-15, MinStep: 5, MaxStep: 5}

	out := trace(t, g, opts, 45, 8)
	require.Equal(t, Diverged, out.Data.Status)
	assert.True(t, errors.Is(out.Err, ErrStepTooSmall))
	var ie *IntegrationError
	require.True(t, errors.As(out.Err, &ie))
	assert.Equal(t, 5.0, ie.Step)
}

func TestRangeExceeded(t *testing.T) {
	t.Parallel()
	g := testutil.VacuumGrid(t, 100)

	out := trace(t, g, testOptions(), 5, 10)
	assert.Equal(t, RangeExceeded, out.Data.Status)
	assert.True(t, errors.Is(out.Err, iono.ErrOutOfDomain))
	assert.LessOrEqual(t, out.Final.GroundRange, g.MaxRange())
}

func TestWeakFieldOrdinaryRayStaysClose(t *testing.T) {
	t.Parallel()
	plain := layerGrid(t, 3000)
	field := testutil.LayerGrid(t, testutil.GridOptions{MaxRange: 3000, HasField: true, Field: [3]float64{-3000, 2000, 1000}}, fLayer)

	a := trace(t, plain, testOptions(), 30, 8)
	b := trace(t, field, testOptions(), 30, 8)
	require.Equal(t, Completed, a.Data.Status)
	require.Equal(t, Completed, b.Data.Status, "err: %v", b.Err)
	assert.Equal(t, refraction.NoField, a.Data.FinalMode)
	assert.Equal(t, refraction.Ordinary, b.Data.FinalMode)
	assert.InEpsilon(t, a.Data.GroundRange, b.Data.GroundRange, 0.05)
}

func TestResumeContinuesFromGround(t *testing.T) {
	t.Parallel()
	g := layerGrid(t, 3000)
	opts := testOptions()
	m := NewHopManager(refraction.NewEvaluator(g, nil, false), NewGeometry(0, 0, 0, EarthSpherical), opts)

	first := m.Trace(Launch{Elevation: 30, Frequency: 8})
	require.Equal(t, Completed, first.Data.Status)

	final := first.Final
	second := m.Trace(Launch{Elevation: 30, Frequency: 8, Resume: &final})
	require.Equal(t, Completed, second.Data.Status, "err: %v", second.Err)
	assert.InEpsilon(t, 2*first.Data.GroundRange, second.Data.GroundRange, 0.01)
	assert.InEpsilon(t, 2*first.Data.GroupPath, second.Data.GroupPath, 0.01)
	require.Len(t, second.Data.Hops, 1)
	assert.InEpsilon(t, first.Data.Hops[0].GroundRange, second.Data.Hops[0].GroundRange, 0.01)
}

func TestPolarizationRules(t *testing.T) {
	t.Parallel()
	cases := []struct {
		rule Polarization
		in   refraction.Mode
		want refraction.Mode
	}{
		{PolarizationPreserve, refraction.Ordinary, refraction.Ordinary},
		{PolarizationSwap, refraction.Ordinary, refraction.Extraordinary},
		{PolarizationSwap, refraction.Extraordinary, refraction.Ordinary},
		{PolarizationOrdinary, refraction.Extraordinary, refraction.Ordinary},
		{PolarizationExtraordinary, refraction.Ordinary, refraction.Extraordinary},
		{PolarizationSwap, refraction.NoField, refraction.NoField},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.rule.Apply(tc.in), "%s(%s)", tc.rule, tc.in)
	}
	for _, s := range []string{"preserve", "swap", "ordinary", "extraordinary"} {
		p, ok := ParsePolarization(s)
		require.True(t, ok)
		assert.Equal(t, s, p.String())
	}
	_, ok := ParsePolarization("mirror")
	assert.False(t, ok)
}
