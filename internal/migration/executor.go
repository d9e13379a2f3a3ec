package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// execute runs plan inside one transaction, giving every migration its own
// savepoint. When a migration fails its savepoint is rolled back and the
// transaction is committed, so migrations that completed earlier in the
// plan stay applied.
//
// Cancelling ctx never aborts the transaction: it is checked between
// migrations, and once it is done the completed migrations are committed
// and ErrInterrupted is returned.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, d Direction, plan []Migration) (int, error) {
	txCtx := context.WithoutCancel(ctx)
	tx, err := e.conn.BeginTx(txCtx, nil)
	if err != nil {
		return 0, NewDatabaseError("", "begin transaction", err)
	}

	executed := 0
	for i, m := range plan {
		if ctx.Err() != nil {
			logger.Warn("interrupted, committing completed migrations", "executed", executed, "skipped", len(plan)-i)
			interrupted := fmt.Errorf("%w after %d of %d migrations: %w", ErrInterrupted, executed, len(plan), context.Cause(ctx))
			if commitErr := tx.Commit(); commitErr != nil {
				return 0, errors.Join(interrupted, NewDatabaseError("", "commit transaction", commitErr))
			}
			return executed, interrupted
		}

		start := time.Now()
		checksum, err := e.executeOne(txCtx, tx, d, m, fmt.Sprintf("migr_sp_%d", i))
		if err != nil {
			failure := NewMigrationError(m.ID, m.ScriptPath(d), d.String(), fmt.Errorf("%w: %w", ErrMigrationFailed, err))
			if commitErr := tx.Commit(); commitErr != nil {
				// The whole transaction is gone, earlier migrations included.
				return 0, errors.Join(failure, NewDatabaseError("", "commit transaction", commitErr))
			}
			return executed, failure
		}

		elapsed := time.Since(start)
		e.metrics.ObserveMigration(d.String(), elapsed)
		logger.Info(fmt.Sprintf("executed %s migration", d), "id", m.ID, "duration", elapsed, "checksum", checksum)
		executed++
	}

	if err := tx.Commit(); err != nil {
		return 0, NewDatabaseError("", "commit transaction", err)
	}
	return executed, nil
}

// executeOne runs a single script and flips its pending flag under
// savepoint, returning the checksum of the script it ran. On error the
// savepoint is rolled back before returning.
func (e *Engine) executeOne(ctx context.Context, tx *sql.Tx, d Direction, m Migration, savepoint string) (string, error) {
	script, err := m.Script(d)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return "", NewDatabaseError(m.ID, "create savepoint", err)
	}

	err = func() error {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return err
		}
		return e.store.SetPending(ctx, tx, m.ID, d.pendingAfter())
	}()
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return "", errors.Join(err, NewDatabaseError(m.ID, "rollback to savepoint", rbErr))
		}
		return "", err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return "", NewDatabaseError(m.ID, "release savepoint", err)
	}
	return Checksum(script), nil
}

// rollback aborts tx and attaches any rollback failure to cause.
func rollback(tx *sql.Tx, cause error) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Join(cause, NewDatabaseError("", "rollback transaction", err))
	}
	return cause
}
