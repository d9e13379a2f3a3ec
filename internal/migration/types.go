package migration

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

const (
	// MetaTable is the metadata table tracking which migrations are pending.
	MetaTable = "__migr_meta__"

	// InitialID is the reserved id of the bootstrap migration written by Setup.
	InitialID = "0000000000_migr"

	upScript   = "up.sql"
	downScript = "down.sql"
)

// Direction selects whether migrations are applied or reverted.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// pendingAfter is the flag value a migration carries once it ran in d.
func (d Direction) pendingAfter() bool {
	return d == Down
}

// eligible reports whether a row with the given flag is due in d.
func (d Direction) eligible(pending bool) bool {
	if d == Up {
		return pending
	}
	return !pending
}

// Migration is one on-disk migration directory.
type Migration struct {
	ID       string // Directory name, e.g. "2024-01-02-153000_add_users"
	Prefix   string // Sortable prefix before the first underscore
	Name     string // Human-readable name after the first underscore
	Dir      string // Path of the migration directory
	UpPath   string // Path of up.sql
	DownPath string // Path of down.sql
}

// ScriptPath returns the script executed for d.
func (m Migration) ScriptPath(d Direction) string {
	if d == Down {
		return m.DownPath
	}
	return m.UpPath
}

// Script reads the SQL executed for d. Scripts are read at execution time so
// edits made since discovery are picked up.
func (m Migration) Script(d Direction) (string, error) {
	path := m.ScriptPath(d)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", NewFileSystemError(path, "read script", err)
	}
	return string(content), nil
}

// Checksum returns the hex BLAKE2b-256 digest of a script.
func Checksum(script string) string {
	sum := blake2b.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// State is one metadata row.
type State struct {
	ID      string
	Pending bool
}

// Selection picks which migrations an operation executes. Exact, Count and
// All are mutually exclusive; the zero value means "operation default".
type Selection struct {
	Exact string // Migration name (or full id) to force-execute
	Count int    // Number of migrations to execute
	All   bool   // Execute every eligible migration
}

// limit resolves the number of migrations to execute; -1 means no limit.
func (s Selection) limit(defaultCount int) (int, error) {
	if s.Count < 0 {
		return 0, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidSelection, s.Count)
	}
	if s.Exact != "" && (s.Count > 0 || s.All) {
		return 0, fmt.Errorf("%w: exact cannot be combined with count or all", ErrInvalidSelection)
	}
	if s.All && s.Count > 0 {
		return 0, fmt.Errorf("%w: count and all are mutually exclusive", ErrInvalidSelection)
	}
	switch {
	case s.All:
		return -1, nil
	case s.Count > 0:
		return s.Count, nil
	}
	return defaultCount, nil
}

// Querier is the subset of *sql.Conn and *sql.Tx the metadata store needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is the single database session the engine drives. *sql.Conn
// satisfies it.
type Conn interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// StatusEntry describes one migration id as seen by disk and metadata.
type StatusEntry struct {
	ID         string
	Pending    bool // Meaningful only when InMetadata is set
	OnDisk     bool
	InMetadata bool
}

// SyncReport summarises what Sync changed.
type SyncReport struct {
	Inserted []string // Ids added to metadata as pending
	Trimmed  []string // Orphan ids deleted from metadata
	Orphaned []string // Orphan ids left in place because trim was off
}
