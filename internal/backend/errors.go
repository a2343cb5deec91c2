package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the billing backend. The body is kept
// verbatim so validation detail reaches the UI layer uninterpreted.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

// IsUnauthorized reports whether err is an HTTP 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
