package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MigrationsDirName is the directory name searched for when no path is given.
const MigrationsDirName = "migrations"

// ErrMigrationsDirNotFound is returned when the search finds nothing.
var ErrMigrationsDirNotFound = errors.New("unable to locate migrations directory")

var skippedDirs = map[string]bool{
	"target":       true,
	"vendor":       true,
	"node_modules": true,
}

// FindMigrationsDir searches start and up to maxDepth levels below it for a
// directory named "migrations". Directories are visited in lexical order,
// depth first. Dot-directories and build output directories are skipped.
func FindMigrationsDir(start string, maxDepth int) (string, error) {
	found, err := findMigrations(start, 0, maxDepth)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w below %s (depth %d)", ErrMigrationsDirNotFound, start, maxDepth)
	}
	return found, nil
}

func findMigrations(dir string, depth, maxDepth int) (string, error) {
	if depth > maxDepth {
		return "", nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var children []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || skippedDirs[name] {
			continue
		}
		if name == MigrationsDirName {
			return filepath.Join(dir, name), nil
		}
		children = append(children, filepath.Join(dir, name))
	}

	for _, child := range children {
		found, err := findMigrations(child, depth+1, maxDepth)
		if err != nil || found != "" {
			return found, err
		}
	}
	return "", nil
}

// ResolveMigrationsDir returns path when set, otherwise searches from the
// working directory.
func ResolveMigrationsDir(path string, maxDepth int) (string, error) {
	if path != "" {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return FindMigrationsDir(wd, maxDepth)
}
