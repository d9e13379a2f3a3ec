package persistence

import (
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

const (
	pgUndefinedTable = "42P01"
	pgDuplicateTable = "42P07"
)

// Postgres is the PostgreSQL dialect served by the pgx stdlib driver.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return DriverPostgres }

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// OrderByID forces the C collation so the database agrees with the
// byte-wise directory ordering regardless of the cluster locale.
func (Postgres) OrderByID(desc bool) string {
	if desc {
		return `id COLLATE "C" DESC`
	}
	return `id COLLATE "C" ASC`
}

func (Postgres) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUndefinedTable:
		return classify(ErrUndefinedTable, err)
	case pgDuplicateTable:
		return classify(ErrDuplicateTable, err)
	}
	return err
}

func (Postgres) InitialScripts() (string, string) {
	return postgresInitialUp, postgresInitialDown
}

const postgresInitialUp = `-- Sets up a trigger for the given table to automatically set a column called
-- updated_at whenever the row is modified (unless updated_at was included
-- in the modified columns).
--
-- Example:
--
--   CREATE TABLE users (id SERIAL PRIMARY KEY, updated_at TIMESTAMP NOT NULL DEFAULT NOW());
--   SELECT migr_manage_updated_at('users');

CREATE OR REPLACE FUNCTION migr_set_updated_at() RETURNS trigger AS $$
BEGIN
    IF (
        NEW IS DISTINCT FROM OLD AND
        NEW.updated_at IS NOT DISTINCT FROM OLD.updated_at
    ) THEN
        NEW.updated_at := current_timestamp;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION migr_manage_updated_at(_tbl regclass) RETURNS VOID AS $$
BEGIN
    EXECUTE format('CREATE TRIGGER set_updated_at BEFORE UPDATE ON %s
    FOR EACH ROW EXECUTE PROCEDURE migr_set_updated_at()', _tbl);
END;
$$ LANGUAGE plpgsql;
`

const postgresInitialDown = `-- Created by migr setup. Safe to edit; later helpers ship as new migrations.
DROP FUNCTION IF EXISTS migr_manage_updated_at(_tbl regclass);

DROP FUNCTION IF EXISTS migr_set_updated_at();
`
