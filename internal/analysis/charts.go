package analysis

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// maxChartPoints bounds each HTML series; longer replays are strided.
const maxChartPoints = 5000

// residualPoints returns (device time, residual in ms) for ready points.
func residualPoints(res *Result) plotter.XYs {
	pts := make(plotter.XYs, 0, len(res.Points))
	for _, p := range res.Points {
		if !p.Ready {
			continue
		}
		pts = append(pts, plotter.XY{X: p.DeviceTime, Y: p.Residual * 1e3})
	}
	return pts
}

// WritePNG plots the residuals of every result against device time.
func WritePNG(results []*Result, path string) error {
	p := plot.New()
	p.Title.Text = "Receive time residuals"
	p.X.Label.Text = "Device time (s)"
	p.Y.Label.Text = "Measured - estimate (ms)"

	for i, res := range results {
		pts := residualPoints(res)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(res.Algorithm, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save residual plot: %w", err)
	}
	return nil
}

// WriteHTML renders an interactive residual scatter for every result.
func WriteHTML(w io.Writer, results []*Result, source string) error {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Device time replay", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Receive time residuals", Subtitle: source}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Device time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Residual (ms)", NameLocation: "middle", NameGap: 40}),
	)

	for _, res := range results {
		pts := residualPoints(res)
		stride := 1
		if len(pts) > maxChartPoints {
			stride = (len(pts) + maxChartPoints - 1) / maxChartPoints
		}
		data := make([]opts.ScatterData, 0, len(pts)/stride+1)
		for i := 0; i < len(pts); i += stride {
			data = append(data, opts.ScatterData{Value: []interface{}{pts[i].X, pts[i].Y}})
		}
		scatter.AddSeries(res.Algorithm, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render residual chart: %w", err)
	}
	return nil
}

// WriteHTMLFile is WriteHTML into a new file at path.
func WriteHTMLFile(path string, results []*Result, source string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	if err := WriteHTML(f, results, source); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
