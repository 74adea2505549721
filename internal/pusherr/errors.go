// Package pusherr holds the error taxonomy shared by the installation
// lifecycle and the receive client.
package pusherr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrLockContention is returned by an update lock that is already held.
	ErrLockContention = errors.New("cannot acquire update lock")

	// ErrConnectInProgress is returned by Connect when the receive client is
	// not idle. It maps to http.StatusBadRequest.
	ErrConnectInProgress = errors.New("connection is already being processed")
)

// ValidationError reports a precondition that was not met. No network call
// is made when one is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// BackendError is a non-2xx answer from the push backend.
type BackendError struct {
	StatusCode int
	Body       []byte
}

func (e *BackendError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("backend: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, truncate(e.Body, 256))
}

// StorageError wraps a failure of the local persistence slot.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

func IsUnauthorized(err error) bool { return StatusCode(err) == http.StatusUnauthorized }

// StatusCode extracts an HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var be *BackendError
	if errors.As(err, &be) {
		return be.StatusCode
	}
	if errors.Is(err, ErrConnectInProgress) {
		return http.StatusBadRequest
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
