package crawler

import (
	"errors"
	"fmt"
)

// ErrSessionUnavailable is returned once session bootstrap has exhausted its
// attempts. It is the only error that stops a whole run.
var ErrSessionUnavailable = errors.New("session unavailable")

// ErrNotFound is returned by readers when no row matches.
var ErrNotFound = errors.New("not found")

// PersistError describes a failed upsert. The transaction has been rolled back
// by the time callers see it.
type PersistError struct {
	ExternalID string
	Op         string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist provider %q: %s: %v", e.ExternalID, e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
