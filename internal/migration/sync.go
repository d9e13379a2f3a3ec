package migration

import (
	"context"
	"slices"
)

// Sync reconciles the metadata table with the migrations directory. Every
// on-disk migration without a row gets a pending row. Rows without a
// directory are deleted when trim is set and reported as orphaned otherwise.
// The table is created when missing. All changes share one transaction.
func (e *Engine) Sync(ctx context.Context, trim bool) (SyncReport, error) {
	report, err := e.sync(ctx, trim)
	return report, e.fail(err)
}

func (e *Engine) sync(ctx context.Context, trim bool) (SyncReport, error) {
	logger := e.log(ctx, "sync", "trim", trim)

	migrations, err := e.repo.List(Up)
	if err != nil {
		return SyncReport{}, err
	}

	txCtx := context.WithoutCancel(ctx)
	tx, err := e.conn.BeginTx(txCtx, nil)
	if err != nil {
		return SyncReport{}, NewDatabaseError("", "begin transaction", err)
	}

	if err := e.store.CreateIfMissing(txCtx, tx); err != nil {
		return SyncReport{}, rollback(tx, err)
	}
	states, err := e.store.AllStates(txCtx, tx)
	if err != nil {
		return SyncReport{}, rollback(tx, err)
	}

	remaining := make(map[string]struct{}, len(states))
	for _, s := range states {
		remaining[s.ID] = struct{}{}
	}

	var report SyncReport
	for _, m := range migrations {
		if _, ok := remaining[m.ID]; ok {
			delete(remaining, m.ID)
			continue
		}
		report.Inserted = append(report.Inserted, m.ID)
	}

	if err := e.store.InsertPending(txCtx, tx, report.Inserted); err != nil {
		return SyncReport{}, rollback(tx, err)
	}

	orphans := make([]string, 0, len(remaining))
	for id := range remaining {
		orphans = append(orphans, id)
	}
	slices.Sort(orphans)

	if trim {
		for _, id := range orphans {
			if err := e.store.Delete(txCtx, tx, id); err != nil {
				return SyncReport{}, rollback(tx, err)
			}
		}
		report.Trimmed = orphans
	} else {
		report.Orphaned = orphans
	}

	if err := tx.Commit(); err != nil {
		return SyncReport{}, NewDatabaseError("", "commit transaction", err)
	}

	for _, id := range report.Inserted {
		logger.Info("registered migration", "id", id)
	}
	for _, id := range report.Trimmed {
		logger.Info("trimmed metadata row", "id", id)
	}
	for _, id := range report.Orphaned {
		logger.Warn("metadata row has no migration directory", "id", id)
	}
	logger.Debug("sync complete",
		"inserted", len(report.Inserted), "trimmed", len(report.Trimmed), "orphaned", len(report.Orphaned))

	return report, nil
}
