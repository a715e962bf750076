package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("resource not found")

// RequestError carries the status and body of a non-success remote response.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote request failed: %d %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is a RequestError with the given status code.
func IsStatus(err error, code int) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == code
	}
	return false
}
