// Package rayplot draws traced rays over a plasma frequency slice, as a
// PNG through gonum/plot or as an interactive go-echarts page.
package rayplot

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/raytrace"
)

// Background is a plasma frequency slice indexed [height][range].
type Background struct {
	PlasmaFrequency [][]float64 // MHz
	StartRange      float64     // km
	RangeInc        float64     // km
	StartHeight     float64     // km
	HeightInc       float64     // km
}

// BackgroundFromGrid slices g to [0, maxRange] x [0, top].
func BackgroundFromGrid(g *iono.Grid, maxRange, top float64) Background {
	pf, r0, h0 := g.SubGrid(0, maxRange, 0, top)
	return Background{
		PlasmaFrequency: pf,
		StartRange:      r0,
		RangeInc:        g.RangeInc(),
		StartHeight:     h0,
		HeightInc:       g.HeightInc(),
	}
}

func (b Background) empty() bool {
	return len(b.PlasmaFrequency) == 0 || len(b.PlasmaFrequency[0]) == 0
}

// span returns the smallest and largest plasma frequency.
func (b Background) span() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range b.PlasmaFrequency {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return lo, hi
}

// Figure is everything drawn in one plot.
type Figure struct {
	Title      string
	Background Background
	Rays       []raytrace.RayRecord
	// MaxRange and Top clip the axes; zero uses the background extent.
	MaxRange float64
	Top      float64
}

func (f *Figure) limits() (maxRange, top float64) {
	maxRange, top = f.MaxRange, f.Top
	b := f.Background
	if maxRange == 0 && !b.empty() {
		maxRange = b.StartRange + float64(len(b.PlasmaFrequency[0])-1)*b.RangeInc
	}
	if top == 0 && !b.empty() {
		top = b.StartHeight + float64(len(b.PlasmaFrequency)-1)*b.HeightInc
	}
	return maxRange, top
}

// FigureTitle formats the fan description used as a figure title.
func FigureTitle(ut time.Time, freq, r12, lat, lon, bearing float64) string {
	ut = ut.UTC()
	return fmt.Sprintf("%d/%d/%d  %02d:%02dUT   %gMHz   R12 = %g   lat = %g, lon = %g, bearing = %g",
		int(ut.Month()), ut.Day(), ut.Year(), ut.Hour(), ut.Minute(), freq, r12, lat, lon, bearing)
}
