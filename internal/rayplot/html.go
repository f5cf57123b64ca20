package rayplot

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// maxBackgroundPoints bounds the plasma frequency scatter.
const maxBackgroundPoints = 20000

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// RenderHTML writes an interactive page with the ray paths and, when a
// background is present, a plasma frequency scatter.
func RenderHTML(w io.Writer, f Figure) error {
	maxRange, top := f.limits()

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ray fan", Width: "1400px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Ray paths", Subtitle: f.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: 0, Max: axisMax(maxRange), Name: "Ground range (km)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: axisMax(top), Name: "Height (km)", NameLocation: "middle", NameGap: 40}),
	)
	for i, rec := range f.Rays {
		data := make([]opts.LineData, 0, len(rec))
		for _, st := range rec {
			data = append(data, opts.LineData{Value: []interface{}{st.GroundRange, st.Height}})
		}
		name := fmt.Sprintf("ray %d", i)
		if len(rec) > 0 {
			name = fmt.Sprintf("%.1f°", rec[0].Elevation)
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	page := components.NewPage()
	page.PageTitle = "Ray fan"
	page.AddCharts(line)
	if !f.Background.empty() {
		page.AddCharts(backgroundScatter(f.Background, f.Title))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

func axisMax(v float64) interface{} {
	if v <= 0 {
		return nil
	}
	return v
}

func backgroundScatter(b Background, title string) *charts.Scatter {
	rows, cols := len(b.PlasmaFrequency), len(b.PlasmaFrequency[0])
	stride := 1
	for (rows/stride)*(cols/stride) > maxBackgroundPoints {
		stride++
	}
	lo, hi := b.span()

	data := make([]opts.ScatterData, 0, (rows/stride+1)*(cols/stride+1))
	for ih := 0; ih < rows; ih += stride {
		for ir := 0; ir < cols; ir += stride {
			x := b.StartRange + float64(ir)*b.RangeInc
			y := b.StartHeight + float64(ih)*b.HeightInc
			data = append(data, opts.ScatterData{Value: []interface{}{x, y, b.PlasmaFrequency[ih][ir]}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1400px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Plasma frequency (MHz)", Subtitle: fmt.Sprintf("%s  stride=%d", title, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Ground range (km)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Height (km)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("plasma frequency", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}
