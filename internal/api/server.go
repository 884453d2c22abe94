// Package api serves stored readings over HTTP: JSON for scripts, an
// echarts page and a PNG plot for people.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/radiation.report/internal/db"
	"github.com/banshee-data/radiation.report/internal/eventlog"
	"github.com/banshee-data/radiation.report/internal/report"
	"github.com/banshee-data/radiation.report/internal/timeutil"
)

// Store is the read side of the database the server needs.
type Store interface {
	Readings(from, to time.Time) ([]db.Reading, error)
	ReadingsLog(from, to time.Time) (*eventlog.DecodedLog, error)
	Downloads() ([]db.Download, error)
	RawDump(id string) ([]byte, error)
}

type Server struct {
	store Store
	loc   *time.Location
	clock timeutil.Clock
}

// NewServer returns a server reading from store. Day boundaries and chart
// labels use loc.
func NewServer(store Store, loc *time.Location, clock timeutil.Clock) *Server {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{store: store, loc: loc, clock: clock}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/downloads", s.listDownloads)
	mux.HandleFunc("/api/downloads/{id}/raw", s.downloadRaw)
	mux.HandleFunc("/chart", s.showChart)
	mux.HandleFunc("/plot.png", s.showPlot)
	return mux
}

// parseTime accepts RFC 3339 or a bare date in the server's zone.
func (s *Server) parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, s.loc)
}

// timeRange reads from, to and days. Without from or days the range starts
// at local midnight today, matching the CLI's default.
func (s *Server) timeRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	now := s.clock.Now().In(s.loc)
	from = eventlog.StartOfDay(now)

	if d := q.Get("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days < 1 {
			return from, to, errors.New("Invalid 'days' parameter")
		}
		from = from.AddDate(0, 0, 1-days)
	}
	if v := q.Get("from"); v != "" {
		if from, err = s.parseTime(v); err != nil {
			return from, to, fmt.Errorf("Invalid 'from' parameter: %v", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = s.parseTime(v); err != nil {
			return from, to, fmt.Errorf("Invalid 'to' parameter: %v", err)
		}
	}
	if !to.IsZero() && !to.After(from) {
		return from, to, errors.New("'to' must be after 'from'")
	}
	return from, to, nil
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	from, to, err := s.timeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.store.Readings(from, to)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	if readings == nil {
		readings = []db.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

type summaryResponse struct {
	Samples int                   `json:"samples"`
	From    *time.Time            `json:"from,omitempty"`
	To      *time.Time            `json:"to,omitempty"`
	Total   int                   `json:"total_clicks"`
	Max     int                   `json:"max_cps"`
	MeanCPS float64               `json:"mean_cps"`
	StdDev  float64               `json:"stddev_cps"`
	MeanCPM float64               `json:"mean_cpm"`
	Values  []eventlog.ValueShare `json:"values"`
	Highest []eventlog.Event      `json:"highest"`
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	from, to, err := s.timeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	log, err := s.store.ReadingsLog(from, to)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}

	sum := log.Summarize()
	resp := summaryResponse{
		Samples: sum.Samples,
		Total:   sum.Total,
		Max:     sum.Max,
		MeanCPS: sum.MeanCPS,
		StdDev:  sum.StdDev,
		MeanCPM: sum.MeanCPM,
		Values:  sum.Values,
		Highest: sum.Highest,
	}
	if sum.Samples > 0 {
		resp.From, resp.To = &sum.From, &sum.To
	}
	if resp.Values == nil {
		resp.Values = []eventlog.ValueShare{}
	}
	if resp.Highest == nil {
		resp.Highest = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDownloads(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	downloads, err := s.store.Downloads()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve downloads: %v", err))
		return
	}
	if downloads == nil {
		downloads = []db.Download{}
	}
	writeJSON(w, http.StatusOK, downloads)
}

func (s *Server) downloadRaw(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	id := r.PathValue("id")
	raw, err := s.store.RawDump(id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=gmc-%s.bin", id))
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.Write(raw)
}

func (s *Server) rangeLog(w http.ResponseWriter, r *http.Request) (*eventlog.DecodedLog, bool) {
	if !allowGet(w, r) {
		return nil, false
	}
	from, to, err := s.timeRange(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	log, err := s.store.ReadingsLog(from, to)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return nil, false
	}
	if log.Empty() {
		writeJSONError(w, http.StatusNotFound, report.ErrNoData.Error())
		return nil, false
	}
	return log, true
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	log, ok := s.rangeLog(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, log, report.ChartOptions{Location: s.loc}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	log, ok := s.rangeLog(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WritePNG(&buf, log, report.PlotOptions{Location: s.loc}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
