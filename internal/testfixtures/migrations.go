package testfixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// MigrationTree builds a migrations directory on disk.
type MigrationTree struct {
	Root string

	tb  testing.TB
	ids *IDGenerator
}

// NewMigrationTree creates an empty migrations directory under tb.TempDir.
func NewMigrationTree(tb testing.TB) *MigrationTree {
	tb.Helper()

	root := filepath.Join(tb.TempDir(), "migrations")
	if err := os.MkdirAll(root, 0o755); err != nil {
		tb.Fatalf("failed to create migrations root: %v", err)
	}
	return &MigrationTree{Root: root, tb: tb, ids: NewIDGenerator()}
}

// Add writes a migration directory with the given scripts and returns its path.
func (m *MigrationTree) Add(id, up, down string) string {
	m.tb.Helper()

	dir := filepath.Join(m.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.tb.Fatalf("failed to create migration %s: %v", id, err)
	}
	m.WriteFile(filepath.Join(id, "up.sql"), up)
	m.WriteFile(filepath.Join(id, "down.sql"), down)
	return dir
}

// AddTable adds a migration that creates table on up and drops it on down,
// using the next sequential id. It returns the id.
func (m *MigrationTree) AddTable(table string) string {
	m.tb.Helper()

	id := m.ids.Next("create_" + table)
	m.Add(id,
		fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY, name TEXT);\nINSERT INTO %s (name) VALUES ('seed');", table, table),
		fmt.Sprintf("DROP TABLE %s;", table))
	return id
}

// AddBroken adds a migration whose up script fails, using the next
// sequential id.
func (m *MigrationTree) AddBroken(name string) string {
	m.tb.Helper()

	id := m.ids.Next(name)
	m.Add(id, "CREATE TABLE broken_tmp (id INTEGER);\nTHIS IS NOT SQL;", "SELECT 1;")
	return id
}

// WriteFile writes content to a path relative to Root, creating parents.
func (m *MigrationTree) WriteFile(rel, content string) {
	m.tb.Helper()

	path := filepath.Join(m.Root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.tb.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		m.tb.Fatalf("failed to write %s: %v", path, err)
	}
}

// Remove deletes a migration directory.
func (m *MigrationTree) Remove(id string) {
	m.tb.Helper()

	if err := os.RemoveAll(filepath.Join(m.Root, id)); err != nil {
		m.tb.Fatalf("failed to remove migration %s: %v", id, err)
	}
}
