package raytrace

import (
	"testing"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/refraction"
	"github.com/banshee-data/hfray/internal/testutil"
)

var testTolerance = Tolerance{Relative: 1e-7, MinStep: 0.01, MaxStep: 10}

// fLayer is a 10 MHz parabolic layer peaking at 300 km.
var fLayer = testutil.Layer{CriticalFreq: 10, PeakHeight: 300, HalfWidth: 100}

func testOptions() Options {
	return Options{
		Tolerance:   testTolerance,
		NHops:       1,
		MaxSteps:    20000,
		Mode:        refraction.Ordinary,
		TurningStep: 0.5,
	}
}

func layerGrid(t *testing.T, maxRange float64) *iono.Grid {
	t.Helper()
	return testutil.LayerGrid(t, testutil.GridOptions{MaxRange: maxRange}, fLayer)
}

func trace(t *testing.T, g *iono.Grid, opts Options, elev, freq float64) Outcome {
	t.Helper()
	m := NewHopManager(refraction.NewEvaluator(g, nil, false), NewGeometry(0, 0, 0, EarthSpherical), opts)
	return m.Trace(Launch{Elevation: elev, Frequency: freq})
}
