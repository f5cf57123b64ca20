package rayplot

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Default PNG size.
const (
	DefaultWidth  = 14 * vg.Inch
	DefaultHeight = 5 * vg.Inch
)

// pfGrid adapts a Background to plotter.GridXYZ.
type pfGrid struct{ b Background }

func (g pfGrid) Dims() (c, r int) { return len(g.b.PlasmaFrequency[0]), len(g.b.PlasmaFrequency) }
func (g pfGrid) Z(c, r int) float64 { return g.b.PlasmaFrequency[r][c] }
func (g pfGrid) X(c int) float64 { return g.b.StartRange + float64(c)*g.b.RangeInc }
func (g pfGrid) Y(r int) float64 { return g.b.StartHeight + float64(r)*g.b.HeightInc }

var rayColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// newPlot builds the plot for f without rendering it.
func newPlot(f Figure) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = "Ground range (km)"
	p.Y.Label.Text = "Height (km)"

	if !f.Background.empty() {
		if lo, hi := f.Background.span(); hi > lo {
			hm := plotter.NewHeatMap(pfGrid{f.Background}, palette.Heat(64, 1))
			hm.Min, hm.Max = lo, hi
			p.Add(hm)
		}
	}

	for i, rec := range f.Rays {
		if len(rec) < 2 {
			continue
		}
		pts := make(plotter.XYs, len(rec))
		for j, st := range rec {
			pts[j] = plotter.XY{X: st.GroundRange, Y: st.Height}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("ray %d: %w", i, err)
		}
		line.Color = rayColor
		line.Width = vg.Points(1)
		p.Add(line)
	}

	maxRange, top := f.limits()
	if maxRange > 0 {
		p.X.Min, p.X.Max = 0, maxRange
	}
	if top > 0 {
		p.Y.Min, p.Y.Max = 0, top
	}
	return p, nil
}

// RenderPNG draws f as a PNG of the given size. Zero sizes use the
// defaults.
func RenderPNG(w io.Writer, f Figure, width, height vg.Length) error {
	if width == 0 {
		width = DefaultWidth
	}
	if height == 0 {
		height = DefaultHeight
	}
	p, err := newPlot(f)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
