package eventlog

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// HighThreshold is the CPS value from which a reading is listed as a highlight.
const HighThreshold = 6

// ValueShare is how often one CPS value occurs in the log.
type ValueShare struct {
	Value    int `json:"value"`
	Count    int `json:"count"`
	PerMille int `json:"per_mille"`
}

// Summary is the statistics printed after a download.
type Summary struct {
	Samples  int
	From     time.Time
	To       time.Time
	Total    int
	Max      int
	MeanCPS  float64
	StdDev   float64
	MeanCPM  float64
	Values   []ValueShare
	Highest  []Event
	Duration time.Duration
}

// Summarize computes the log's statistics. An empty log yields a zero Summary.
func (l *DecodedLog) Summarize() Summary {
	var s Summary
	if l.Empty() {
		return s
	}

	s.Samples = len(l.events)
	s.From = l.First().Time
	s.To = l.Last().Time
	s.Duration = s.To.Sub(s.From) + time.Second

	var histogram [256]int
	xs := make([]float64, len(l.events))
	for i, e := range l.events {
		xs[i] = float64(e.Count)
		s.Total += e.Count
		if e.Count > s.Max {
			s.Max = e.Count
		}
		if e.Count >= 0 && e.Count < len(histogram) {
			histogram[e.Count]++
		}
		if e.Count >= HighThreshold {
			s.Highest = append(s.Highest, e)
		}
	}

	for v, n := range histogram {
		if n == 0 {
			continue
		}
		s.Values = append(s.Values, ValueShare{Value: v, Count: n, PerMille: n * 1000 / s.Samples})
	}

	s.MeanCPS = stat.Mean(xs, nil)
	if len(xs) > 1 {
		s.StdDev = stat.StdDev(xs, nil)
	}
	s.MeanCPM = s.MeanCPS * 60
	return s
}
