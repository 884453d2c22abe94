package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the debug pages on mux: store counters on the
// /debug/ index, live SQL through tailsql and a gzip'd snapshot of the
// database.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	debug.Title("radiation.report")
	debug.KV("Database", db.path)
	debug.KVFunc("Stored", func() any { return db.storeSummary() })

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Downloads and readings",
	})

	debug.Handle("tailsql/", "SQL over downloads and readings", tsql.NewMux())
	debug.Handle("backup", "Download a snapshot of "+filepath.Base(db.path), http.HandlerFunc(db.handleBackup))
	return nil
}

// storeSummary is the one-line state shown on the debug index.
func (db *DB) storeSummary() string {
	var downloads, readings int
	var last sql.NullInt64
	err := db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM downloads),
		(SELECT COUNT(*) FROM readings),
		(SELECT MAX(ts) FROM readings)`).Scan(&downloads, &readings, &last)
	if err != nil {
		return "error: " + err.Error()
	}
	s := fmt.Sprintf("%d downloads, %d readings", downloads, readings)
	if last.Valid {
		s += ", newest " + time.Unix(last.Int64, 0).Format(time.DateTime)
	}
	return s
}

// backupName names a snapshot after the database file and the time taken,
// e.g. radiation-20240101T120000.db.
func (db *DB) backupName(now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(db.path), filepath.Ext(db.path))
	return fmt.Sprintf("%s-%s.db", base, now.UTC().Format("20060102T150405"))
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := db.backupName(time.Now())
	dir, err := os.MkdirTemp("", "gmc-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to remove backup %s: %v", dir, err)
		}
	}()

	snapshot := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", snapshot); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(snapshot)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	zw := gzip.NewWriter(w)
	defer zw.Close()
	if _, err := io.Copy(zw, f); err != nil {
		log.Printf("Failed to write backup %s: %v", name, err)
	}
}
