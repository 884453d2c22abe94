package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radiation.report/internal/db"
	"github.com/banshee-data/radiation.report/internal/eventlog"
	"github.com/banshee-data/radiation.report/internal/gmc"
	"github.com/banshee-data/radiation.report/internal/timeutil"
)

var noon = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *db.DB
	mux      http.Handler
	download db.Download
}

// newFixture stores three readings yesterday and four today.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var events []eventlog.Event
	yesterday := time.Date(2024, 1, 1, 23, 59, 57, 0, time.UTC)
	for i, c := range []int{1, 2, 3, 0, 7, 1, 2} {
		events = append(events, eventlog.Event{Time: yesterday.Add(time.Duration(i) * time.Second), Count: c})
	}
	info := gmc.DeviceInfo{Version: "GMC-300Re 4.54", BatteryDecivolts: 40, Serial: "01 02", DeviceTime: noon}
	d, err := store.RecordDownload(noon, info, []byte{0x55, 0xAA}, eventlog.Assemble(events))
	require.NoError(t, err)

	srv := NewServer(store, time.UTC, timeutil.NewMockClock(noon))
	return &fixture{db: store, mux: srv.ServeMux(), download: d}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decodeReadings(t *testing.T, w *httptest.ResponseRecorder) []db.Reading {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var readings []db.Reading
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &readings))
	return readings
}

func TestListReadings_DefaultsToToday(t *testing.T) {
	f := newFixture(t)
	readings := decodeReadings(t, f.get(t, "/api/readings"))

	require.Len(t, readings, 4)
	assert.Equal(t, int64(1704153600), readings[0].Time.Unix()) // 2024-01-02 00:00:00 UTC
	assert.Equal(t, 0, readings[0].CPS)
	assert.Equal(t, f.download.ID, readings[0].DownloadID)
}

func TestListReadings_Ranges(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, decodeReadings(t, f.get(t, "/api/readings?days=2")), 7)
	assert.Len(t, decodeReadings(t, f.get(t, "/api/readings?from=2024-01-01&to=2024-01-02")), 3)
	assert.Len(t, decodeReadings(t, f.get(t, "/api/readings?from=2024-01-01T23:59:58Z&to=2024-01-02T00:00:01Z")), 3)
	assert.Empty(t, decodeReadings(t, f.get(t, "/api/readings?from=2030-01-01")))
}

func TestListReadings_BadParams(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/readings?days=0",
		"/api/readings?days=x",
		"/api/readings?from=yesterday",
		"/api/readings?to=soon",
		"/api/readings?from=2024-01-02&to=2024-01-01",
	} {
		w := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Contains(t, w.Body.String(), `"error"`, target)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"/api/readings", "/api/downloads", "/api/summary", "/chart", "/plot.png"} {
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, strings.NewReader("{}")))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, target)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/summary?days=2")
	require.Equal(t, http.StatusOK, w.Code)

	var got summaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.Samples)
	assert.Equal(t, 16, got.Total)
	assert.Equal(t, 7, got.Max)
	require.Len(t, got.Highest, 1)
	assert.Equal(t, 7, got.Highest[0].Count)

	w = f.get(t, "/api/summary?from=2030-01-01")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"samples":0`)
	assert.NotContains(t, w.Body.String(), `"from"`)
}

func TestDownloads(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/downloads")
	require.Equal(t, http.StatusOK, w.Code)

	var downloads []db.Download
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &downloads))
	require.Len(t, downloads, 1)
	assert.Equal(t, f.download.ID, downloads[0].ID)
	assert.Equal(t, 7, downloads[0].Events)

	w = f.get(t, "/api/downloads/"+f.download.ID+"/raw")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{0x55, 0xAA}, w.Body.Bytes())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	w = f.get(t, "/api/downloads/nope/raw")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChartAndPlot(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/chart?days=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "7 reads, 16 clicks, highest: 7")

	w = f.get(t, "/plot.png")
	require.Equal(t, http.StatusOK, w.Code)
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.InDelta(t, 1280, img.Bounds().Dx(), 2)

	w = f.get(t, "/plot.png?from=2030-01-01")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no data available")
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(500), colorBoldRed)
}
