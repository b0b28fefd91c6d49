package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is the one failure kind the gateway normalizes: a response whose
// status is outside [200, 400).
type HTTPError struct {
	Status int
	Text   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Text)
}

func (e *HTTPError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not come
// from a non-success response.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
