package persistence

import (
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLite is the dialect for the pure Go modernc.org/sqlite driver.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return DriverSQLite }

func (SQLite) Placeholder(int) string {
	return "?"
}

// OrderByID relies on SQLite's default BINARY collation.
func (SQLite) OrderByID(desc bool) string {
	if desc {
		return "id DESC"
	}
	return "id ASC"
}

// MapError matches on the message text; modernc reports both conditions with
// the generic SQLITE_ERROR code.
func (SQLite) MapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case containsAny(msg, []string{"no such table"}):
		return classify(ErrUndefinedTable, err)
	case containsAny(msg, []string{"already exists"}) && containsAny(msg, []string{"table"}):
		return classify(ErrDuplicateTable, err)
	}
	return err
}

func (SQLite) InitialScripts() (string, string) {
	return sqliteInitialUp, sqliteInitialDown
}

const sqliteInitialUp = `-- Created by migr setup. SQLite needs no helper functions; add shared
-- objects here if the project wants them applied before everything else.
SELECT 1;
`

const sqliteInitialDown = `-- Reverts everything from up.sql.
SELECT 1;
`
