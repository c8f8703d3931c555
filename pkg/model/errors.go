package model

import (
	"errors"
	"fmt"
)

// Failure kinds raised by hydration and reported through the API.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidMessage = errors.New("invalid data message")
	ErrSourceRead     = errors.New("source read error")
	ErrConfig         = errors.New("configuration error")
	ErrTimeout        = errors.New("timeout")
	ErrCanceled       = errors.New("canceled")
)

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeConflict   ErrorCode = "CONFLICT"
	CodeSourceRead ErrorCode = "SOURCE_READ_ERROR"
	CodeConfig     ErrorCode = "CONFIG_ERROR"
	CodeTimeout    ErrorCode = "TIMEOUT"
	CodeCanceled   ErrorCode = "CANCELED"
	CodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the blaze API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: CodeValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// CodeOf maps an error onto the API code of its failure kind.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidMessage):
		return CodeValidation
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.Is(err, ErrSourceRead):
		return CodeSourceRead
	case errors.Is(err, ErrConfig):
		return CodeConfig
	}
	return CodeInternal
}

// HydrationError wraps a failure to populate one input partition.
type HydrationError struct {
	Op          string // "lookup", "broadcast", "stream", "mmap"
	PartitionID int64
	Kind        error
	Err         error
}

func (e *HydrationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s partition %d: %v", e.Op, e.PartitionID, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s partition %d: %v", e.Op, e.PartitionID, e.Err)
	}
	return fmt.Sprintf("%s partition %d: %v: %v", e.Op, e.PartitionID, e.Kind, e.Err)
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *HydrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// InvalidTransitionError is returned when a task status change would move backwards.
type InvalidTransitionError struct {
	ID   int64
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task state transition: %s → %s (task %d)", e.From, e.To, e.ID)
}
