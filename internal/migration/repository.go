package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// idPattern matches <sortable-prefix>_<name>. The prefix is digits and
// hyphens only, so the first underscore always separates it from the name.
var idPattern = regexp.MustCompile(`^([0-9][0-9-]*)_([A-Za-z0-9][A-Za-z0-9_.-]*)$`)

// Repository reads migration directories from the filesystem. It keeps no
// cache: every List call rescans the root.
type Repository struct {
	root string
}

// NewRepository creates a Repository rooted at the migrations directory.
func NewRepository(root string) *Repository {
	return &Repository{root: root}
}

// Root returns the migrations directory.
func (r *Repository) Root() string {
	return r.root
}

// List returns every migration ordered for d: ascending by id for Up, the
// exact reverse for Down.
func (r *Repository) List(d Direction) ([]Migration, error) {
	if _, err := os.Stat(r.root); err != nil {
		return nil, NewFileSystemError(r.root, "scan directory", err)
	}

	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, NewFileSystemError(r.root, "read directory", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(r.root, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, NewFileSystemError(path, "stat entry", err)
		}
		if !info.IsDir() {
			continue
		}

		migration, err := r.load(name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, migration)
	}

	slices.SortFunc(migrations, func(a, b Migration) int {
		return strings.Compare(a.ID, b.ID)
	})
	if d == Down {
		slices.Reverse(migrations)
	}

	return migrations, nil
}

// load validates one migration directory.
func (r *Repository) load(id string) (Migration, error) {
	dir := filepath.Join(r.root, id)

	prefix, name, err := ParseID(id)
	if err != nil {
		return Migration{}, NewMigrationError("", dir, "discover", err)
	}

	m := Migration{
		ID:       id,
		Prefix:   prefix,
		Name:     name,
		Dir:      dir,
		UpPath:   filepath.Join(dir, upScript),
		DownPath: filepath.Join(dir, downScript),
	}

	for _, script := range []string{m.UpPath, m.DownPath} {
		info, err := os.Stat(script)
		if err != nil || !info.Mode().IsRegular() {
			return Migration{}, NewMigrationError(id, dir, "discover",
				fmt.Errorf("%w: %s does not contain the necessary `%s` file", ErrMissingScript, dir, filepath.Base(script)))
		}
	}

	return m, nil
}

// ParseID splits a migration id into its sortable prefix and name.
func ParseID(id string) (prefix, name string, err error) {
	matches := idPattern.FindStringSubmatch(id)
	if matches == nil {
		return "", "", fmt.Errorf("%w: '%s' does not match pattern '<prefix>_<name>'", ErrInvalidMigrationDir, id)
	}
	return matches[1], matches[2], nil
}

// ids extracts migration ids in slice order.
func ids(migrations []Migration) []string {
	out := make([]string, len(migrations))
	for i, m := range migrations {
		out[i] = m.ID
	}
	return out
}
