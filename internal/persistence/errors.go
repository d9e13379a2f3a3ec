package persistence

import (
	"errors"
	"strings"
)

var (
	// ErrUndefinedTable is returned when a statement references a table that does not exist.
	ErrUndefinedTable = errors.New("persistence: undefined table")

	// ErrDuplicateTable is returned when a CREATE TABLE targets an existing table.
	ErrDuplicateTable = errors.New("persistence: table already exists")
)

// classifiedError keeps the driver error reachable through errors.As while
// also matching one of the persistence sentinels through errors.Is.
type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func classify(kind, err error) error {
	return &classifiedError{kind: kind, err: err}
}

// containsAny checks if the string contains any of the given substrings
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
