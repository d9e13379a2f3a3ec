// Package migration applies and reverts directory-based SQL migrations.
//
// Each migration lives in its own directory under a migrations root:
//
//	migrations/
//	  0000000000_migr/{up.sql,down.sql}
//	  2024-01-02-153000_add_users/{up.sql,down.sql}
//
// The directory name is the migration id, <sortable-prefix>_<name>, and ids
// are applied in byte-wise ascending order. Whether a migration is applied
// is tracked in the __migr_meta__ table as a pending flag; the filesystem
// only provides ordering and SQL content. Sync reconciles the two.
//
// Run, Revert and Redo execute every selected migration in its own
// savepoint inside a single transaction. A failing migration is rolled back
// to its savepoint while the ones before it are committed. Cancelling the
// context stops a run between migrations; what completed is committed and
// ErrInterrupted is returned.
//
// Example usage:
//
//	engine, err := migration.NewEngine(conn.Conn, migration.EngineConfig{
//		Root:    "migrations",
//		Dialect: conn.Dialect,
//	})
//	if err != nil {
//		return err
//	}
//	if _, err := engine.Run(ctx, migration.Selection{}); err != nil {
//		return err
//	}
//
// Running two engines against the same database at once is not supported.
package migration
