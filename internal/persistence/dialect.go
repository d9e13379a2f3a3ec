package persistence

import (
	"fmt"
	"net/url"
	"strings"
)

// Driver names registered with database/sql.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Dialect captures the handful of SQL differences the migration engine has to
// care about. Migration payloads themselves are executed verbatim.
type Dialect interface {
	// Name is a short human readable identifier ("postgres", "sqlite").
	Name() string

	// DriverName is the database/sql driver the dialect talks to.
	DriverName() string

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string

	// OrderByID returns an ORDER BY expression sorting ids byte-wise.
	OrderByID(desc bool) string

	// MapError rewrites driver errors into ErrUndefinedTable / ErrDuplicateTable
	// when applicable. Other errors are returned unchanged.
	MapError(err error) error

	// InitialScripts returns the up and down SQL of the bootstrap migration.
	InitialScripts() (up, down string)
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, "postgres", "postgresql":
		return Postgres{}, nil
	case DriverSQLite, "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("persistence: unsupported driver %q", driver)
	}
}

// DetectDriver infers the driver from a database URL.
func DetectDriver(databaseURL string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(databaseURL))
	switch {
	case lower == "":
		return "", fmt.Errorf("persistence: empty database URL")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres, nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "sqlite:"),
		strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return DriverSQLite, nil
	}

	if u, err := url.Parse(lower); err == nil && u.Scheme != "" {
		return "", fmt.Errorf("persistence: unsupported database scheme %q", u.Scheme)
	}
	return "", fmt.Errorf("persistence: cannot infer driver from database URL")
}
