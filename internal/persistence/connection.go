package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds connection settings for the single session migr works on.
type Config struct {
	// URL is the database URL (postgres://..., sqlite://path, file:path).
	URL string

	// Driver overrides driver detection from URL when set.
	Driver string

	// BusyTimeout sets how long SQLite waits for database locks.
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key checking on SQLite.
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string
}

// DefaultConfig returns a configuration with sensible defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
	}
}

// Connection is one dedicated session on a database pool. The engine only
// ever talks to Conn, so session state such as SQLite pragmas and open
// transactions stays on a single physical connection.
type Connection struct {
	DB      *sql.DB
	Conn    *sql.Conn
	Dialect Dialect
}

// Open validates cfg, opens the pool and checks out a single connection.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		detected, err := DetectDriver(cfg.URL)
		if err != nil {
			return nil, err
		}
		driver = detected
	}

	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if dialect.DriverName() == DriverSQLite {
		dsn = sqliteDSN(cfg.URL)
		if err := createDatabaseFile(dsn); err != nil {
			return nil, fmt.Errorf("failed to create database file: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name(), err)
	}

	if dialect.DriverName() == DriverSQLite {
		if err := configureSQLite(ctx, conn, cfg); err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("failed to configure SQLite database: %w", err)
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect.Name(), err)
	}

	return &Connection{DB: db, Conn: conn, Dialect: dialect}, nil
}

// Close returns the session to the pool and closes the pool.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Conn != nil {
		errs = append(errs, c.Conn.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

// ValidateConfig validates the connection configuration
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	if cfg.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if cfg.JournalMode != "" && !validJournalModes[strings.ToUpper(cfg.JournalMode)] {
		return fmt.Errorf("invalid journal mode: %s", cfg.JournalMode)
	}

	return nil
}

// configureSQLite applies per-connection PRAGMA settings.
func configureSQLite(ctx context.Context, conn *sql.Conn, cfg Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
	}
	if cfg.EnableForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+strings.ToUpper(cfg.JournalMode))
	}

	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// sqliteDSN strips the sqlite:// scheme accepted in DATABASE_URL; modernc
// understands plain paths and file: URIs.
func sqliteDSN(url string) string {
	url = strings.TrimSpace(url)
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if len(url) >= len(prefix) && strings.EqualFold(url[:len(prefix)], prefix) {
			return url[len(prefix):]
		}
	}
	return url
}

// createDatabaseFile makes sure the parent directory of a file-backed
// database exists.
func createDatabaseFile(dsn string) error {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return nil
	}

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
