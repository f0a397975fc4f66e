package multipart

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is wrapped by errors returned for invalid planner inputs.
var ErrInvalidArgument = errors.New("invalid argument")

// ConfigurationError is returned before any remote call when the input is unusable.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid upload configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid upload configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is returned by Store implementations when a remote call fails.
type TransportError struct {
	Op         string
	PartNumber int32
	// Code is the store specific error code, when the store provided one.
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.PartNumber > 0 {
		msg = fmt.Sprintf("%s (part %d)", msg, e.PartNumber)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CanceledError is returned when the caller's context ended the upload.
// It is never used for cancellations triggered by a failing sibling part.
type CanceledError struct {
	UploadID string
	Err      error
}

func (e *CanceledError) Error() string {
	if e.UploadID == "" {
		return fmt.Sprintf("upload canceled: %v", e.Err)
	}
	return fmt.Sprintf("upload %s canceled: %v", e.UploadID, e.Err)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}

// InvariantViolationError reports a local bookkeeping inconsistency, such as a
// completed part count that differs from the planned one.
type InvariantViolationError struct {
	UploadID string
	Detail   string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("upload %s: invariant violated: %s", e.UploadID, e.Detail)
}
