package migration

import (
	"context"
	"fmt"
)

// ResolveExact finds the migration whose name (the part after the first
// underscore) or full id equals name, and checks that it has a metadata row.
func (e *Engine) ResolveExact(ctx context.Context, name string) (Migration, error) {
	migrations, err := e.repo.List(Up)
	if err != nil {
		return Migration{}, err
	}

	target, ok := findMigration(migrations, name)
	if !ok {
		return Migration{}, fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}

	count, err := e.store.Count(ctx, e.conn, target.ID)
	if err != nil {
		return Migration{}, err
	}
	if count != 1 {
		return Migration{}, fmt.Errorf("%w: %s", ErrNoMetadataEntry, target.ID)
	}
	return target, nil
}

// findMigration prefers a full id match over a name match; among name
// matches the first in ascending order wins.
func findMigration(migrations []Migration, name string) (Migration, bool) {
	for _, m := range migrations {
		if m.ID == name {
			return m, true
		}
	}
	for _, m := range migrations {
		if m.Name == name {
			return m, true
		}
	}
	return Migration{}, false
}
