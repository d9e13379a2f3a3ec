package migration

import (
	"context"
	"slices"
	"strings"
)

// Status lists every id known to either the migrations directory or the
// metadata table, in ascending order.
func (e *Engine) Status(ctx context.Context) ([]StatusEntry, error) {
	entries, err := e.status(ctx)
	return entries, e.fail(err)
}

func (e *Engine) status(ctx context.Context) ([]StatusEntry, error) {
	migrations, err := e.repo.List(Up)
	if err != nil {
		return nil, err
	}
	states, err := e.store.AllStates(ctx, e.conn)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*StatusEntry, len(migrations)+len(states))
	for _, m := range migrations {
		byID[m.ID] = &StatusEntry{ID: m.ID, OnDisk: true}
	}
	for _, s := range states {
		entry, ok := byID[s.ID]
		if !ok {
			entry = &StatusEntry{ID: s.ID}
			byID[s.ID] = entry
		}
		entry.InMetadata = true
		entry.Pending = s.Pending
	}

	entries := make([]StatusEntry, 0, len(byID))
	for _, entry := range byID {
		entries = append(entries, *entry)
	}
	slices.SortFunc(entries, func(a, b StatusEntry) int {
		return strings.Compare(a.ID, b.ID)
	})
	return entries, nil
}
