package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/radiation.report/internal/eventlog"
)

// ChartOptions controls the HTML chart.
type ChartOptions struct {
	// AssetsHost overrides where echarts.min.js is loaded from. Empty uses
	// the go-echarts default CDN.
	AssetsHost string
	Location   *time.Location
}

// NewChart builds a bar chart with one bar per second and a zoom slider.
func NewChart(log *eventlog.DecodedLog, o ChartOptions) (*charts.Bar, error) {
	if log.Empty() {
		return nil, ErrNoData
	}
	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	s := log.Summarize()

	x := make([]string, 0, log.Len())
	y := make([]opts.BarData, 0, log.Len())
	for _, e := range log.Events() {
		x = append(x, e.Time.In(loc).Format("15:04:05"))
		y = append(y, opts.BarData{Value: e.Count, Name: stamp(e.Time.In(loc))})
	}

	initOpts := opts.Initialization{PageTitle: "GMC CPS", Width: "100%", Height: "720px"}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%d reads, %d clicks, highest: %d", s.Samples, s.Total, s.Max),
			Subtitle: fmt.Sprintf("from %s to %s", stamp(s.From.In(loc)), stamp(s.To.In(loc))),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithYAxisOpts(opts.YAxis{Name: "CPS"}),
	)
	bar.SetXAxis(x).AddSeries("CPS (clicks per second)", y)
	return bar, nil
}

// WriteHTML renders the chart page to w.
func WriteHTML(w io.Writer, log *eventlog.DecodedLog, o ChartOptions) error {
	bar, err := NewChart(log, o)
	if err != nil {
		return err
	}
	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
