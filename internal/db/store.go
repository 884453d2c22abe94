package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/radiation.report/internal/eventlog"
	"github.com/banshee-data/radiation.report/internal/gmc"
)

// ErrNotFound is returned when a download id is unknown.
var ErrNotFound = errors.New("not found")

// Download is one stored download session.
type Download struct {
	ID          string    `json:"download_id"`
	StartedAt   time.Time `json:"started_at"`
	Version     string    `json:"version"`
	Serial      string    `json:"serial"`
	Battery     float64   `json:"battery_volts"`
	DeviceTime  time.Time `json:"device_time"`
	Events      int       `json:"events"`
	Inserted    int       `json:"inserted"`
	TotalClicks int       `json:"total_clicks"`
	MaxCPS      int       `json:"max_cps"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
}

// Reading is a stored per-second CPS value.
type Reading struct {
	Time       time.Time `json:"ts"`
	CPS        int       `json:"cps"`
	DownloadID string    `json:"download_id"`
}

func (r Reading) String() string {
	return fmt.Sprintf("%s %d", r.Time.Format("20060102.150405"), r.CPS)
}

func unixOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// RecordDownload stores a download and its readings in one transaction.
// Readings for seconds already in the database are left untouched, so the
// first download to store a second wins. The returned Download reports how
// many readings were new.
func (db *DB) RecordDownload(startedAt time.Time, info gmc.DeviceInfo, raw []byte, log *eventlog.DecodedLog) (Download, error) {
	summary := log.Summarize()
	d := Download{
		ID:          uuid.NewString(),
		StartedAt:   startedAt,
		Version:     info.Version,
		Serial:      info.Serial,
		Battery:     info.BatteryVolts(),
		DeviceTime:  info.DeviceTime,
		Events:      log.Len(),
		TotalClicks: summary.Total,
		MaxCPS:      summary.Max,
		From:        summary.From,
		To:          summary.To,
	}

	tx, err := db.Begin()
	if err != nil {
		return d, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO downloads (
			download_id, started_at, version, serial, battery, device_time, raw,
			events, total_clicks, max_cps, first_ts, last_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, startedAt.Unix(), info.Version, info.Serial, info.BatteryDecivolts,
		unixOrNull(info.DeviceTime), raw, d.Events, d.TotalClicks, d.MaxCPS,
		unixOrNull(d.From), unixOrNull(d.To),
	)
	if err != nil {
		return d, fmt.Errorf("failed to insert download: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO readings (ts, cps, download_id) VALUES (?, ?, ?)`)
	if err != nil {
		return d, fmt.Errorf("failed to prepare reading insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range log.Events() {
		res, err := stmt.Exec(e.Time.Unix(), e.Count, d.ID)
		if err != nil {
			return d, fmt.Errorf("failed to insert reading %s: %w", e, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			d.Inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return d, fmt.Errorf("failed to commit download: %w", err)
	}
	return d, nil
}

// Readings returns stored readings in [from, to), ascending. A zero to means
// no upper bound.
func (db *DB) Readings(from, to time.Time) ([]Reading, error) {
	query := `SELECT ts, cps, download_id FROM readings WHERE ts >= ?`
	args := []interface{}{from.Unix()}
	if from.IsZero() {
		args[0] = int64(0)
	}
	if !to.IsZero() {
		query += ` AND ts < ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY ts`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var (
			r  Reading
			ts int64
		)
		if err := rows.Scan(&ts, &r.CPS, &r.DownloadID); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Time = time.Unix(ts, 0)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ReadingsLog returns stored readings as a DecodedLog for plotting.
func (db *DB) ReadingsLog(from, to time.Time) (*eventlog.DecodedLog, error) {
	readings, err := db.Readings(from, to)
	if err != nil {
		return nil, err
	}
	events := make([]eventlog.Event, len(readings))
	for i, r := range readings {
		events[i] = eventlog.Event{Time: r.Time, Count: r.CPS}
	}
	return eventlog.Assemble(events), nil
}

const downloadColumns = `download_id, started_at, version, serial, battery, device_time,
	events, total_clicks, max_cps, first_ts, last_ts,
	(SELECT COUNT(*) FROM readings r WHERE r.download_id = d.download_id)`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(s scanner) (Download, error) {
	var (
		d                       Download
		started                 int64
		battery                 int
		deviceTime, first, last sql.NullInt64
	)
	err := s.Scan(&d.ID, &started, &d.Version, &d.Serial, &battery, &deviceTime,
		&d.Events, &d.TotalClicks, &d.MaxCPS, &first, &last, &d.Inserted)
	if err != nil {
		return d, err
	}
	d.StartedAt = time.Unix(started, 0)
	d.Battery = float64(battery) / 10
	if deviceTime.Valid {
		d.DeviceTime = time.Unix(deviceTime.Int64, 0)
	}
	if first.Valid {
		d.From = time.Unix(first.Int64, 0)
	}
	if last.Valid {
		d.To = time.Unix(last.Int64, 0)
	}
	return d, nil
}

// Downloads lists stored downloads, newest first.
func (db *DB) Downloads() ([]Download, error) {
	rows, err := db.Query(`SELECT ` + downloadColumns + ` FROM downloads d ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// GetDownload returns one download by id.
func (db *DB) GetDownload(id string) (Download, error) {
	d, err := scanDownload(db.QueryRow(`SELECT `+downloadColumns+` FROM downloads d WHERE download_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return d, err
}

// RawDump returns the raw buffer stored with a download.
func (db *DB) RawDump(id string) ([]byte, error) {
	var raw []byte
	err := db.QueryRow(`SELECT raw FROM downloads WHERE download_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read raw dump: %w", err)
	}
	return raw, nil
}
