package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		url         string
		expected    string
		expectError bool
	}{
		{url: "postgres://u:p@localhost:5432/db", expected: DriverPostgres},
		{url: "postgresql://localhost/db?sslmode=disable", expected: DriverPostgres},
		{url: "sqlite:///tmp/migr.db", expected: DriverSQLite},
		{url: "sqlite:migr.db", expected: DriverSQLite},
		{url: "file:migr.db?cache=shared", expected: DriverSQLite},
		{url: ":memory:", expected: DriverSQLite},
		{url: "mysql://localhost/db", expectError: true},
		{url: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, err := DetectDriver(tt.url)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q, got driver %q", tt.url, driver)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectDriver(%q) failed: %v", tt.url, err)
			}
			if driver != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, driver)
			}
		})
	}
}

func TestDialectFor(t *testing.T) {
	for driver, name := range map[string]string{
		"pgx":      "postgres",
		"postgres": "postgres",
		"sqlite":   "sqlite",
		"sqlite3":  "sqlite",
	} {
		dialect, err := DialectFor(driver)
		if err != nil {
			t.Fatalf("DialectFor(%q) failed: %v", driver, err)
		}
		if dialect.Name() != name {
			t.Errorf("DialectFor(%q).Name() = %q, want %q", driver, dialect.Name(), name)
		}
	}

	if _, err := DialectFor("oracle"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPostgres_MapError(t *testing.T) {
	d := Postgres{}

	undefined := fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01", Message: `relation "__migr_meta__" does not exist`})
	mapped := d.MapError(undefined)
	if !errors.Is(mapped, ErrUndefinedTable) {
		t.Fatalf("expected ErrUndefinedTable, got %v", mapped)
	}
	var pgErr *pgconn.PgError
	if !errors.As(mapped, &pgErr) {
		t.Fatal("expected driver error to stay reachable")
	}

	duplicate := &pgconn.PgError{Code: "42P07", Message: `relation "__migr_meta__" already exists`}
	if !errors.Is(d.MapError(duplicate), ErrDuplicateTable) {
		t.Fatal("expected ErrDuplicateTable")
	}

	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	if got := d.MapError(syntax); got != error(syntax) {
		t.Fatalf("unexpected mapping of syntax error: %v", got)
	}

	if d.MapError(nil) != nil {
		t.Fatal("MapError(nil) should be nil")
	}
}

func TestSQLite_MapErrorFromDriver(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, DefaultConfig("sqlite://"+filepath.Join(t.TempDir(), "map.db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.Conn.ExecContext(ctx, "SELECT id FROM missing_table")
	if !errors.Is(conn.Dialect.MapError(err), ErrUndefinedTable) {
		t.Fatalf("expected ErrUndefinedTable, got %v", err)
	}

	if _, err := conn.Conn.ExecContext(ctx, "CREATE TABLE twice (id TEXT)"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err = conn.Conn.ExecContext(ctx, "CREATE TABLE twice (id TEXT)")
	if !errors.Is(conn.Dialect.MapError(err), ErrDuplicateTable) {
		t.Fatalf("expected ErrDuplicateTable, got %v", err)
	}
}

func TestDialect_OrderAndPlaceholders(t *testing.T) {
	if got := (Postgres{}).Placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
	if got := (SQLite{}).Placeholder(3); got != "?" {
		t.Errorf("sqlite placeholder = %q", got)
	}
	if got := (Postgres{}).OrderByID(true); got != `id COLLATE "C" DESC` {
		t.Errorf("postgres order = %q", got)
	}
	if got := (SQLite{}).OrderByID(false); got != "id ASC" {
		t.Errorf("sqlite order = %q", got)
	}
}
