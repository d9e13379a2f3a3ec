package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/migr/internal/persistence"
)

// Store reads and writes the metadata table. Every method takes the Querier
// to run on, so mutations land in whatever transaction the caller opened.
type Store struct {
	dialect persistence.Dialect
}

// NewStore creates a metadata store speaking the given dialect.
func NewStore(dialect persistence.Dialect) *Store {
	return &Store{dialect: dialect}
}

func (s *Store) createTableSQL(ifNotExists bool) string {
	clause := ""
	if ifNotExists {
		clause = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (id TEXT PRIMARY KEY, pending BOOLEAN DEFAULT TRUE)", clause, MetaTable)
}

// EnsureSchema creates the metadata table and seeds the reserved initial
// row. Calling it against an existing table returns ErrAlreadyInitialized.
func (s *Store) EnsureSchema(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, s.createTableSQL(false)); err != nil {
		err = s.dialect.MapError(err)
		if errors.Is(err, persistence.ErrDuplicateTable) {
			return fmt.Errorf("%w: %w", ErrAlreadyInitialized, err)
		}
		return NewDatabaseError("", "create metadata table", err)
	}
	return s.Insert(ctx, q, InitialID)
}

// CreateIfMissing creates the metadata table when it does not exist yet.
func (s *Store) CreateIfMissing(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, s.createTableSQL(true)); err != nil {
		return NewDatabaseError("", "create metadata table", err)
	}
	return nil
}

// LoadStates returns the rows for exactly the given ids, ordered ascending
// for Up and descending for Down.
func (s *Store) LoadStates(ctx context.Context, q Querier, ids []string, d Direction) ([]State, error) {
	var (
		query string
		args  []any
	)
	if len(ids) == 0 {
		query = fmt.Sprintf("SELECT id, pending FROM %s WHERE 1 = 0", MetaTable)
	} else {
		placeholders := make([]string, len(ids))
		args = make([]any, len(ids))
		for i, id := range ids {
			placeholders[i] = s.dialect.Placeholder(i + 1)
			args[i] = id
		}
		query = fmt.Sprintf("SELECT id, pending FROM %s WHERE id IN (%s) ORDER BY %s",
			MetaTable, strings.Join(placeholders, ", "), s.dialect.OrderByID(d == Down))
	}
	return s.queryStates(ctx, q, "load states", query, args...)
}

// AllStates returns every metadata row in ascending id order.
func (s *Store) AllStates(ctx context.Context, q Querier) ([]State, error) {
	query := fmt.Sprintf("SELECT id, pending FROM %s ORDER BY %s", MetaTable, s.dialect.OrderByID(false))
	return s.queryStates(ctx, q, "list states", query)
}

func (s *Store) queryStates(ctx context.Context, q Querier, operation, query string, args ...any) ([]State, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrapQueryError(operation, err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var state State
		if err := rows.Scan(&state.ID, &state.Pending); err != nil {
			return nil, NewDatabaseError("", operation, err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapQueryError(operation, err)
	}
	return states, nil
}

func (s *Store) wrapQueryError(operation string, err error) error {
	err = s.dialect.MapError(err)
	if errors.Is(err, persistence.ErrUndefinedTable) {
		return fmt.Errorf("%w: %w", ErrMetadataMissing, err)
	}
	return NewDatabaseError("", operation, err)
}

// Insert adds a pending row for id.
func (s *Store) Insert(ctx context.Context, q Querier, id string) error {
	query := fmt.Sprintf("INSERT INTO %s (id, pending) VALUES (%s, TRUE)", MetaTable, s.dialect.Placeholder(1))
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		if mapped := s.dialect.MapError(err); errors.Is(mapped, persistence.ErrUndefinedTable) {
			return fmt.Errorf("%w: %w", ErrMetadataMissing, mapped)
		}
		return NewDatabaseError(id, "insert metadata", err)
	}
	return nil
}

// InsertPending adds pending rows for ids in one statement, leaving rows
// that already exist untouched.
func (s *Store) InsertPending(ctx context.Context, q Querier, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		values[i] = fmt.Sprintf("(%s, TRUE)", s.dialect.Placeholder(i+1))
		args[i] = id
	}
	query := fmt.Sprintf("INSERT INTO %s (id, pending) VALUES %s ON CONFLICT (id) DO NOTHING",
		MetaTable, strings.Join(values, ", "))

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return NewDatabaseError("", "insert metadata batch", err)
	}
	return nil
}

// SetPending updates the pending flag of id. A missing row is reported as
// ErrNoMetadataEntry.
func (s *Store) SetPending(ctx context.Context, q Querier, id string, pending bool) error {
	query := fmt.Sprintf("UPDATE %s SET pending = %s WHERE id = %s",
		MetaTable, s.dialect.Placeholder(1), s.dialect.Placeholder(2))
	result, err := q.ExecContext(ctx, query, pending, id)
	if err != nil {
		return NewDatabaseError(id, "update pending flag", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return NewDatabaseError(id, "update pending flag", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNoMetadataEntry, id)
	}
	return nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, q Querier, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", MetaTable, s.dialect.Placeholder(1))
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return NewDatabaseError(id, "delete metadata", err)
	}
	return nil
}

// Count returns the number of rows for id (0 or 1).
func (s *Store) Count(ctx context.Context, q Querier, id string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", MetaTable, s.dialect.Placeholder(1))
	var count int
	if err := q.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, s.wrapQueryError("count metadata", err)
	}
	return count, nil
}
