package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches a 404 from the remote service.
var ErrNotFound = errors.New("remote: not found")

// StatusError surfaces a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

//nolint:errorlint
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
