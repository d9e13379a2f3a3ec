package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/migr/internal/persistence"
)

// SQLiteHarness is a file-backed SQLite session for engine tests.
type SQLiteHarness struct {
	Path string
	Conn *persistence.Connection

	cleanup func()
}

// Close releases the connection. It is also registered with tb.Cleanup.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens an empty database in a temporary directory.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "migr.db")
	conn, err := persistence.Open(context.Background(), persistence.DefaultConfig("sqlite://"+path))
	if err != nil {
		tb.Fatalf("failed to open sqlite database: %v", err)
	}

	harness := &SQLiteHarness{
		Path: path,
		Conn: conn,
		cleanup: func() {
			_ = conn.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// TableExists reports whether a table named name exists.
func (h *SQLiteHarness) TableExists(tb testing.TB, name string) bool {
	tb.Helper()

	var count int
	err := h.Conn.Conn.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		tb.Fatalf("failed to inspect sqlite_master: %v", err)
	}
	return count == 1
}

// Pending returns the pending flag stored for id and whether the row exists.
func (h *SQLiteHarness) Pending(tb testing.TB, table, id string) (pending, ok bool) {
	tb.Helper()

	rows, err := h.Conn.Conn.QueryContext(context.Background(),
		"SELECT pending FROM "+table+" WHERE id = ?", id)
	if err != nil {
		tb.Fatalf("failed to read metadata row %s: %v", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, false
	}
	if err := rows.Scan(&pending); err != nil {
		tb.Fatalf("failed to scan metadata row %s: %v", id, err)
	}
	return pending, true
}
