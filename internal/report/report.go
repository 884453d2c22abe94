// Package report renders a decoded log for people: console statistics, a
// PNG impulse plot and an interactive HTML chart.
package report

import (
	"errors"
	"time"
)

// ErrNoData is returned when there is nothing to render.
var ErrNoData = errors.New("no data available")

const stampLayout = "2006-01-02 15:04:05"

func stamp(t time.Time) string { return t.Format(stampLayout) }
