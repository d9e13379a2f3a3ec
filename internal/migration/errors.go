package migration

import (
	"errors"
	"fmt"
)

// Migration-specific error types for different failure scenarios
var (
	// ErrInvalidMigrationDir indicates a directory name that is not <prefix>_<name>
	ErrInvalidMigrationDir = errors.New("invalid migration directory name")

	// ErrMissingScript indicates a migration directory without up.sql or down.sql
	ErrMissingScript = errors.New("migration script missing")

	// ErrMetadataMissing indicates that the metadata table does not exist
	ErrMetadataMissing = errors.New("metadata table does not exist, run `migr setup` or `migr sync` first")

	// ErrNotSynced indicates that metadata and the migrations directory disagree
	ErrNotSynced = errors.New("metadata is out of sync with the migrations directory, run `migr sync` first")

	// ErrMigrationFailed indicates that a migration script or its flag update failed
	ErrMigrationFailed = errors.New("migration execution failed")

	// ErrTargetNotFound indicates that no migration directory matches the requested name
	ErrTargetNotFound = errors.New("no migration found")

	// ErrNoMetadataEntry indicates a migration directory without a metadata row
	ErrNoMetadataEntry = errors.New("migration has no metadata entry, run `migr sync` first")

	// ErrAlreadyInitialized indicates that setup ran against an existing metadata table
	ErrAlreadyInitialized = errors.New("metadata table already exists, run `migr sync` instead")

	// ErrInvalidSelection indicates conflicting or invalid exact/count/all options
	ErrInvalidSelection = errors.New("invalid migration selection")

	// ErrInvalidName indicates a migration name that cannot be used in a directory id
	ErrInvalidName = errors.New("invalid migration name")

	// ErrInitialMissing indicates that the reserved initial migration directory is absent
	ErrInitialMissing = errors.New("initial migration could not be found, run `migr setup` or generate with -force")

	// ErrInterrupted indicates that the caller cancelled a run between migrations
	ErrInterrupted = errors.New("operation interrupted")
)

// MigrationError wraps migration-specific errors with additional context
type MigrationError struct {
	ID        string // Migration id that caused the error
	Path      string // Path to the migration directory or script
	Operation string // Operation being performed (discover, up, down, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *MigrationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("migration %s (%s): %s: %v", e.ID, e.Path, e.Operation, e.Err)
	}
	return fmt.Sprintf("migration error (%s): %s: %v", e.Path, e.Operation, e.Err)
}

// Unwrap returns the underlying error for error unwrapping
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError creates a new MigrationError with context
func NewMigrationError(id, path, operation string, err error) *MigrationError {
	return &MigrationError{
		ID:        id,
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// FileSystemError wraps file system related errors during migration operations
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// NewFileSystemError creates a new FileSystemError
func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// DatabaseError wraps database-related errors during migration operations
type DatabaseError struct {
	ID        string // Migration id (if applicable)
	Operation string // Database operation (load states, set pending, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("database error in migration %s during %s: %v", e.ID, e.Operation, e.Err)
	}
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(id, operation string, err error) *DatabaseError {
	return &DatabaseError{
		ID:        id,
		Operation: operation,
		Err:       err,
	}
}

// ErrorKind maps an error to a stable label for logs and metrics.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case errors.Is(err, ErrInvalidMigrationDir), errors.Is(err, ErrMissingScript), errors.Is(err, ErrInitialMissing):
		return "discovery"
	case errors.Is(err, ErrMetadataMissing), errors.Is(err, ErrNotSynced):
		return "metadata_missing"
	case errors.Is(err, ErrMigrationFailed):
		return "execution"
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrNoMetadataEntry):
		return "target_not_found"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInvalidSelection), errors.Is(err, ErrInvalidName):
		return "invalid_input"
	}

	var fsErr *FileSystemError
	if errors.As(err, &fsErr) {
		return "filesystem"
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return "database"
	}
	return "unexpected"
}
