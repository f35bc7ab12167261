package local

import (
	"errors"
	"fmt"

	"github.com/roach88/dodgesync/internal/entity"
)

var (
	// ErrNotFound is returned when an update targets a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned for input the store refuses to persist.
	ErrInvalid = errors.New("invalid input")
)

// NotFoundError names the missing entity. It matches ErrNotFound with
// errors.Is.
type NotFoundError struct {
	Kind entity.Kind
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound returns true if err is, or wraps, a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
