package report

import (
	"fmt"
	"io"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/radiation.report/internal/eventlog"
)

// PlotOptions controls the PNG plot. Zero values select the defaults.
type PlotOptions struct {
	WidthPx  int
	HeightPx int
	YMax     float64
	Location *time.Location
}

const (
	defaultWidthPx  = 1280
	defaultHeightPx = 720
	defaultYMax     = 24
	yMin            = -0.5
	pngDPI          = 96
)

func (o PlotOptions) withDefaults() PlotOptions {
	if o.WidthPx <= 0 {
		o.WidthPx = defaultWidthPx
	}
	if o.HeightPx <= 0 {
		o.HeightPx = defaultHeightPx
	}
	if o.YMax <= 0 {
		o.YMax = defaultYMax
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Title returns the three-line plot heading.
func Title(s eventlog.Summary) string {
	return fmt.Sprintf("from %s\nto   %s\n%d reads, %d clicks, highest: %d",
		stamp(s.From), stamp(s.To), s.Samples, s.Total, s.Max)
}

// NewPlot builds an impulse plot of CPS against time of day.
func NewPlot(log *eventlog.DecodedLog, o PlotOptions) (*plot.Plot, error) {
	if log.Empty() {
		return nil, ErrNoData
	}
	o = o.withDefaults()
	summary := log.Summarize()

	p := plot.New()
	p.Title.Text = Title(summary)
	p.X.Label.Text = "time"
	p.Y.Label.Text = "CPS (clicks per second)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04", Time: plot.UnixTimeIn(o.Location)}

	p.Y.Min = yMin
	p.Y.Max = o.YMax
	if m := float64(summary.Max) + 1; m > p.Y.Max {
		p.Y.Max = m
	}
	p.Add(plotter.NewGrid())

	// each reading is a vertical stroke from zero
	pts := make(plotter.XYs, 0, 3*log.Len())
	for _, e := range log.Events() {
		x := float64(e.Time.Unix())
		pts = append(pts,
			plotter.XY{X: x, Y: 0},
			plotter.XY{X: x, Y: float64(e.Count)},
			plotter.XY{X: x, Y: 0},
		)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build impulses: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("CPS", line)
	p.Legend.Top = true

	if log.Len() == 1 {
		// give a lone reading some room
		x := float64(log.First().Time.Unix())
		p.X.Min, p.X.Max = x-30, x+30
	}
	return p, nil
}

func pixels(px int) vg.Length {
	return vg.Length(px) * vg.Inch / pngDPI
}

// WritePNG renders the plot as PNG to w.
func WritePNG(w io.Writer, log *eventlog.DecodedLog, o PlotOptions) error {
	o = o.withDefaults()
	p, err := NewPlot(log, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(pixels(o.WidthPx), pixels(o.HeightPx), "png")
	if err != nil {
		return fmt.Errorf("failed to create png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}
