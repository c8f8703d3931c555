package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: CodeNotFound, Message: "Task '7' not found"}
	want := "NOT_FOUND: Task '7' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Task", "42")
	if err.Code != CodeNotFound {
		t.Errorf("Code = %q, want %q", err.Code, CodeNotFound)
	}
	if err.Message != "Task '42' not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestHydrationError_Is(t *testing.T) {
	cause := fmt.Errorf("open /data/part-0: %w", context.DeadlineExceeded)
	err := fmt.Errorf("hydrate: %w", &HydrationError{Op: "stream", PartitionID: 3, Kind: ErrTimeout, Err: cause})

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout)")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected the cause to stay reachable")
	}
	if errors.Is(err, ErrSourceRead) {
		t.Error("unexpected ErrSourceRead")
	}
	var herr *HydrationError
	if !errors.As(err, &herr) || herr.PartitionID != 3 {
		t.Errorf("errors.As = %+v", herr)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{&HydrationError{Op: "lookup", PartitionID: 9, Kind: ErrNotFound}, CodeNotFound},
		{&HydrationError{Op: "broadcast", PartitionID: -1, Kind: ErrInvalidMessage}, CodeValidation},
		{fmt.Errorf("read: %w", ErrSourceRead), CodeSourceRead},
		{fmt.Errorf("hdfs: %w", ErrConfig), CodeConfig},
		{ErrTimeout, CodeTimeout},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{ID: 5, From: TaskStatusCommitted, To: TaskStatusReady}
	want := "invalid task state transition: COMMITTED → READY (task 5)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
