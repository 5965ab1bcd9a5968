package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
)

// AttachAdminRoutes mounts the debug index, a tailsql SQL browser over the
// dataset, and (for SQLite) an on-demand gzip backup.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB(string(s.dialect)+"://dataset", s.db, &tailsql.DBOptions{
		Label: "Soccer dataset",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	if s.dialect == SQLite {
		debug.Handle("backup", "Create and download a backup of the dataset now", http.HandlerFunc(s.handleBackup))
	}
	return nil
}

func (s *Store) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("dataset-backup-%d.db", time.Now().UnixNano()))
	if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.L().Warn("failed to remove backup file", zap.String("path", backupPath), zap.Error(err))
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.L().Warn("backup stream interrupted", zap.Error(err))
	}
}
