package refraction

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniformGrid returns a 5×5 grid over 0..400 km range and 0..400 km height
// whose density rises linearly with height from base by slope per km.
func uniformGrid(t *testing.T, base, slope float64, field *[3]float64, collision float64) *iono.Grid {
	t.Helper()
	const n = 5
	vals := make([][]float64, n)
	for h := range vals {
		vals[h] = make([]float64, n)
		for r := range vals[h] {
			vals[h][r] = base + slope*float64(h)*100
		}
	}
	spec := iono.GridSpec{Values: vals, RangeInc: 100, HeightInc: 100}
	if collision > 0 {
		prof := make([]float64, n)
		for i := range prof {
			prof[i] = collision
		}
		spec.CollisionProfile = prof
	}
	if field != nil {
		comp := func(v float64) [][]float64 {
			out := make([][]float64, n)
			for h := range out {
				out[h] = []float64{v, v, v, v, v}
			}
			return out
		}
		spec.Field = &iono.FieldSpec{Up: comp(field[0]), Along: comp(field[1]), Cross: comp(field[2])}
	}
	g, err := iono.NewGrid(spec)
	require.NoError(t, err)
	return g
}

func TestNoFieldIndexAndGroupFactor(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 1e5, 2e3, nil, 0)
	e := NewEvaluator(g, nil, false)

	const f = 10.0
	ix, err := e.Evaluate(150, 150, f, 0.3, Ordinary)
	require.NoError(t, err)

	n := 1e5 + 2e3*150
	x := iono.PlasmaFrequencyConstant * n / (f * f)
	assert.InDelta(t, 1-x, ix.M, 1e-9)
	assert.InDelta(t, x, ix.X, 1e-12)
	assert.InDelta(t, -iono.PlasmaFrequencyConstant*2e3/(f*f), ix.DMDHeight, 1e-9)
	assert.InDelta(t, 0, ix.DMDRange, 1e-12)
	assert.InDelta(t, 0, ix.DMDPsi, 1e-12)
	assert.InDelta(t, 1, ix.GroupFactor(), 1e-6)
	assert.InDelta(t, iono.PlasmaFrequency(n), ix.PlasmaFreq, 1e-12)
	assert.False(t, ix.FreeSpace)
}

func TestTransverseFieldRoots(t *testing.T) {
	t.Parallel()
	// horizontal field along range, vertical wave normal: quasi-transverse
	g := uniformGrid(t, 3e5, 0, &[3]float64{0, 40000, 0}, 0)
	e := NewEvaluator(g, nil, false)

	const f = 8.0
	o, err := e.Evaluate(100, 100, f, 0, Ordinary)
	require.NoError(t, err)
	x, err := e.Evaluate(100, 100, f, 0, Extraordinary)
	require.NoError(t, err)

	X := iono.PlasmaFrequencyConstant * 3e5 / (f * f)
	Y := GyroMHzPerNT * 40000 / f
	assert.InDelta(t, 1-X, o.M, 1e-9)
	assert.InDelta(t, 1-X*(1-X)/(1-X-Y*Y), x.M, 1e-9)
	assert.InDelta(t, Y, o.Y, 1e-12)
	assert.Less(t, x.M, o.M, "X-mode index is lower below the O-mode reflection")
}

func TestFieldIgnoredWithoutGridField(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 3e5, 0, nil, 0)
	e := NewEvaluator(g, nil, false)
	o, err := e.Evaluate(100, 100, 8, 0.7, Ordinary)
	require.NoError(t, err)
	x, err := e.Evaluate(100, 100, 8, 0.7, Extraordinary)
	require.NoError(t, err)
	assert.Equal(t, o.M, x.M)
}

func TestEvanescentAboveCritical(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 2e6, 0, nil, 0)
	e := NewEvaluator(g, nil, false)

	// fp ≈ 12.7 MHz
	ix, err := e.Evaluate(100, 100, 5, 0, Ordinary)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvanescent))
	assert.Less(t, ix.M, 0.0)
	assert.Greater(t, ix.X, 1.0)
}

func TestFreeSpaceAndRangeMisses(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 1e5, 0, nil, 0)
	later := uniformGrid(t, 1e5, 0, nil, 0)
	e := NewEvaluator(g, later, false)

	ix, err := e.Evaluate(100, 450, 10, 0, Ordinary)
	require.NoError(t, err)
	assert.True(t, ix.FreeSpace)
	assert.Equal(t, 1.0, ix.M)
	assert.Equal(t, 1.0, ix.MLater)
	assert.True(t, ix.HasLater)

	_, err = e.Evaluate(500, 100, 10, 0, Ordinary)
	require.Error(t, err)
	assert.True(t, errors.Is(err, iono.ErrOutOfDomain))
	assert.False(t, errors.Is(err, ErrEvanescent))
}

func TestLaterGridForDoppler(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 1e5, 0, nil, 0)
	later := uniformGrid(t, 1.2e5, 0, nil, 0)
	e := NewEvaluator(g, later, false)
	require.True(t, e.HasLater())

	ix, err := e.Evaluate(100, 100, 10, 0, Ordinary)
	require.NoError(t, err)
	assert.True(t, ix.HasLater)
	assert.InDelta(t, 1-iono.PlasmaFrequencyConstant*1.2e5/100, ix.MLater, 1e-12)
	assert.Less(t, ix.MLater, ix.M)
}

func TestCollisionalAbsorption(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 5e5, 0, nil, 1e5)
	e := NewEvaluator(g, nil, false)

	ix, err := e.Evaluate(100, 100, 10, 0, Ordinary)
	require.NoError(t, err)
	assert.Greater(t, ix.Z, 0.0)
	assert.Greater(t, ix.KappaND, 0.0)
	// below reflection μ < 1 so the total exceeds the non-deviative part
	assert.Greater(t, ix.Kappa, ix.KappaND)
	assert.InDelta(t, ix.KappaND/math.Sqrt(ix.M), ix.Kappa, 1e-3*ix.Kappa)
	assert.Greater(t, AbsorptionPerKm(ix.Kappa, 10), 0.0)
}

func TestPsiDerivativeMatchesFiniteDifference(t *testing.T) {
	t.Parallel()
	g := uniformGrid(t, 2e5, 0, &[3]float64{-30000, 20000, 5000}, 0)
	e := NewEvaluator(g, nil, false)

	const psi, d = 0.6, 1e-5
	ix, err := e.Evaluate(100, 100, 7, psi, Extraordinary)
	require.NoError(t, err)
	lo, err := e.Evaluate(100, 100, 7, psi-d, Extraordinary)
	require.NoError(t, err)
	hi, err := e.Evaluate(100, 100, 7, psi+d, Extraordinary)
	require.NoError(t, err)
	assert.InDelta(t, (hi.M-lo.M)/(2*d), ix.DMDPsi, 1e-6)
	assert.NotZero(t, ix.DMDPsi)
}

func TestModeParseAndSwap(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{"O": Ordinary, "x": Extraordinary, "no_field": NoField} {
		got, ok := ParseMode(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseMode("Z")
	assert.False(t, ok)
	assert.Equal(t, Extraordinary, Ordinary.Swap())
	assert.Equal(t, Ordinary, Extraordinary.Swap())
	assert.Equal(t, NoField, NoField.Swap())
	assert.Equal(t, "O", Ordinary.String())
}
