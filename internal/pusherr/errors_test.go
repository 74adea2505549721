package pusherr

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
)

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("save: %w", &BackendError{StatusCode: http.StatusNotFound, Body: []byte(`{"error":"x"}`)})
	if got := StatusCode(err); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound")
	}
	if IsUnauthorized(err) {
		t.Fatalf("did not expect IsUnauthorized")
	}
	if got := StatusCode(ErrConnectInProgress); got != http.StatusBadRequest {
		t.Fatalf("expected 400 for connect in progress, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestStorageErrorUnwrap(t *testing.T) {
	err := &StorageError{Op: "write", Err: os.ErrPermission}
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected wrapped permission error")
	}
	if !IsStorage(fmt.Errorf("outer: %w", err)) {
		t.Fatalf("expected IsStorage")
	}
}

func TestValidation(t *testing.T) {
	err := Validation("missing %s", "channels")
	if !IsValidation(err) {
		t.Fatalf("expected validation error")
	}
	if err.Error() != "validation: missing channels" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
