package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

// pngDPI is the resolution gonum's PNG canvas renders at.
const pngDPI = 96

// ratingColors runs from red for one star to green for five.
var ratingColors = [5]color.RGBA{
	{215, 48, 39, 255},
	{252, 141, 89, 255},
	{254, 224, 139, 255},
	{145, 207, 96, 255},
	{26, 152, 80, 255},
}

// BarChartRasterizer turns a 1..5 rating distribution into a PNG.
type BarChartRasterizer interface {
	RenderBarChart(counts [5]int, opts RenderOptions) ([]byte, error)
}

// BarChart draws horizontal bars with five stars on top.
type BarChart struct{}

var _ BarChartRasterizer = BarChart{}

// RenderBarChart renders counts, where counts[0] holds one-star reviews.
// Each bar is labelled "count (pct%)".
func (BarChart) RenderBarChart(counts [5]int, opts RenderOptions) ([]byte, error) {
	opts = opts.withDefaults()
	total, peak := 0, 0
	for _, c := range counts {
		total += c
		if c > peak {
			peak = c
		}
	}

	p := plot.New()
	p.Title.Text = "Rating Distribution"
	p.X.Label.Text = "Reviews"
	p.X.Min = 0
	p.X.Max = float64(max(peak, 1)) * 1.3

	var (
		points plotter.XYs
		labels []string
	)
	for i, c := range counts {
		bar, err := plotter.NewBarChart(plotter.Values{float64(c)}, vg.Points(22))
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i+1, err)
		}
		bar.Horizontal = true
		bar.XMin = float64(i)
		bar.Color = ratingColors[i]
		bar.LineStyle.Color = color.White
		p.Add(bar)

		pct := 0.0
		if total > 0 {
			pct = float64(c) / float64(total) * 100
		}
		points = append(points, plotter.XY{X: float64(c), Y: float64(i)})
		labels = append(labels, fmt.Sprintf("%d (%.1f%%)", c, pct))
	}
	valueLabels, err := plotter.NewLabels(plotter.XYLabels{XYs: points, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("value labels: %w", err)
	}
	for i := range valueLabels.TextStyle {
		valueLabels.TextStyle[i].XAlign = text.XLeft
		valueLabels.TextStyle[i].YAlign = text.YCenter
	}
	valueLabels.Offset = vg.Point{X: vg.Points(4)}
	p.Add(valueLabels)
	p.NominalY("1 star", "2 stars", "3 stars", "4 stars", "5 stars")

	width := vg.Length(float64(opts.Width)/pngDPI) * vg.Inch
	height := vg.Length(float64(opts.Width*9/16)/pngDPI) * vg.Inch
	writer, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, fmt.Errorf("chart canvas: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}
