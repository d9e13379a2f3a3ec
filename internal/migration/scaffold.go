package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// PrefixLayout is the time layout of generated migration prefixes.
const PrefixLayout = "2006-01-02-150405"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

const (
	generatedUp   = "-- Your SQL goes here\n"
	generatedDown = "-- Revert everything from up.sql\n"
)

// Generate creates a new timestamped migration directory with empty scripts
// and registers it as pending. When the initial migration is missing,
// Generate fails unless force is set, in which case it is created first.
func (e *Engine) Generate(ctx context.Context, name string, force bool) (Migration, error) {
	m, err := e.generate(ctx, name, force)
	return m, e.fail(err)
}

func (e *Engine) generate(ctx context.Context, name string, force bool) (Migration, error) {
	if !namePattern.MatchString(name) {
		return Migration{}, fmt.Errorf("%w: %q may only contain letters, digits, '_' and '-'", ErrInvalidName, name)
	}
	logger := e.log(ctx, "generate", "name", name)

	initialMissing, err := e.initialMissing()
	if err != nil {
		return Migration{}, err
	}
	if initialMissing && !force {
		return Migration{}, ErrInitialMissing
	}

	id := e.now().UTC().Format(PrefixLayout) + "_" + name
	dir := filepath.Join(e.repo.Root(), id)
	if _, err := os.Stat(dir); err == nil {
		return Migration{}, NewFileSystemError(dir, "create migration", os.ErrExist)
	}

	txCtx := context.WithoutCancel(ctx)
	tx, err := e.conn.BeginTx(txCtx, nil)
	if err != nil {
		return Migration{}, NewDatabaseError("", "begin transaction", err)
	}

	if initialMissing {
		logger.Info("creating initial migration", "id", InitialID)
		if err := e.ensureInitialRow(txCtx, tx); err != nil {
			return Migration{}, rollback(tx, err)
		}
		if err := e.scaffoldInitial(); err != nil {
			return Migration{}, rollback(tx, err)
		}
	}

	if err := e.store.Insert(txCtx, tx, id); err != nil {
		return Migration{}, rollback(tx, err)
	}
	if err := writeMigration(dir, generatedUp, generatedDown, false); err != nil {
		_ = os.RemoveAll(dir)
		return Migration{}, rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		_ = os.RemoveAll(dir)
		return Migration{}, NewDatabaseError(id, "commit transaction", err)
	}

	logger.Info("generated migration", "id", id, "path", dir)
	return e.repo.load(id)
}

func (e *Engine) initialMissing() (bool, error) {
	dir := filepath.Join(e.repo.Root(), InitialID)
	_, err := os.Stat(dir)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrNotExist):
		return true, nil
	default:
		return false, NewFileSystemError(dir, "stat initial migration", err)
	}
}

// ensureInitialRow creates the metadata table when needed and makes sure
// the reserved initial row exists.
func (e *Engine) ensureInitialRow(ctx context.Context, q Querier) error {
	if err := e.store.CreateIfMissing(ctx, q); err != nil {
		return err
	}
	count, err := e.store.Count(ctx, q, InitialID)
	if err != nil {
		return err
	}
	if count == 0 {
		return e.store.Insert(ctx, q, InitialID)
	}
	return nil
}

// scaffoldInitial writes the reserved initial migration with the dialect's
// helper scripts. Existing scripts are left untouched.
func (e *Engine) scaffoldInitial() error {
	up, down := e.dialect.InitialScripts()
	return writeMigration(filepath.Join(e.repo.Root(), InitialID), up, down, true)
}

func writeMigration(dir, up, down string, keepExisting bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NewFileSystemError(dir, "create migration directory", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	for file, content := range map[string]string{upScript: up, downScript: down} {
		path := filepath.Join(dir, file)
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			if keepExisting && errors.Is(err, os.ErrExist) {
				continue
			}
			return NewFileSystemError(path, "create script", err)
		}
		_, writeErr := f.WriteString(content)
		if err := errors.Join(writeErr, f.Close()); err != nil {
			return NewFileSystemError(path, "write script", err)
		}
	}
	return nil
}
