// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty, unique values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		// General errors
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"not found", ErrNotFound},
		{"duplicate", ErrDuplicate},
		{"validation", ErrValidation},

		// Storage errors
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"storage degraded", ErrStorageDegraded},

		// Sync errors
		{"sync failed", ErrSyncFailed},
		{"sync in progress", ErrSyncInProgress},
		{"sync rejected", ErrSyncRejected},
		{"sync retryable", ErrSyncRetryable},
		{"sync timeout", ErrSyncTimeout},
		{"sync conflict", ErrSyncConflict},
		{"sync offline", ErrSyncOffline},
		{"queue full", ErrQueueFull},
		{"queue corrupted", ErrQueueCorrupted},
		{"record deleted", ErrRecordDeleted},
		{"action not found", ErrActionNotFound},
	}

	seen := make(map[ErrorCode]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("error code for %q is empty", tt.name)
			}
			if prev, ok := seen[tt.code]; ok {
				t.Errorf("error code %q reused by %q and %q", tt.code, prev, tt.name)
			}
			seen[tt.code] = tt.name
		})
	}
}

// TestNew verifies AppError creation without a wrapped error.
func TestNew(t *testing.T) {
	err := New(ErrNotFound, "record not found")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "record not found" {
		t.Errorf("Message = %q, want %q", err.Message, "record not found")
	}
	if err.Err != nil {
		t.Errorf("Err = %v, want nil", err.Err)
	}

	msg := err.Error()
	if !strings.Contains(msg, string(ErrNotFound)) {
		t.Errorf("Error() = %q, missing code", msg)
	}
	if !strings.Contains(msg, "record not found") {
		t.Errorf("Error() = %q, missing message", msg)
	}
}

// TestWrap verifies wrapping an underlying error.
func TestWrap(t *testing.T) {
	inner := errors.New("disk I/O error")
	err := Wrap(ErrDatabase, "failed to persist action", inner)

	if err.Code != ErrDatabase {
		t.Errorf("Code = %q, want %q", err.Code, ErrDatabase)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find wrapped error")
	}
	if err.Unwrap() != inner {
		t.Error("Unwrap() should return the inner error")
	}
	if !strings.Contains(err.Error(), "disk I/O error") {
		t.Errorf("Error() = %q, missing inner error text", err.Error())
	}
}

// TestIs verifies code matching on AppError values.
func TestIs(t *testing.T) {
	err := New(ErrQueueFull, "queue at capacity")

	if !Is(err, ErrQueueFull) {
		t.Error("Is() should match the error's own code")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is() should not match a different code")
	}
	if Is(errors.New("plain"), ErrQueueFull) {
		t.Error("Is() should not match a non-AppError")
	}
	if Is(nil, ErrQueueFull) {
		t.Error("Is() should not match nil")
	}
}

// TestCodeOf verifies code extraction.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrSyncTimeout, "dispatch timed out")); got != ErrSyncTimeout {
		t.Errorf("CodeOf = %q, want %q", got, ErrSyncTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}
