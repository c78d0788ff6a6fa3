package database

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a mutation targets an entity that is not cached.
	ErrNotFound = errors.New("not found")

	// ErrConstraint marks a violated table constraint. It indicates a caller
	// bug (for example a malformed ordered list) and must not be retried.
	ErrConstraint = errors.New("constraint violation")

	ErrUnknownFeed = errors.New("unknown feed")
	ErrUnknownKind = errors.New("unknown item kind")
)

// MigrationError reports the schema step that could not be applied.
type MigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("applying migration %d (%s): %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// classify tags SQLite constraint failures with ErrConstraint so callers can
// tell them apart from I/O errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	// Extended codes keep the primary code in the low byte.
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}
