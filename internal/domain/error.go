package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEmptyInput       = errors.New("input is empty")
	ErrRequestInFlight  = errors.New("a request is already in flight")
	ErrNothingToRetry   = errors.New("conversation is empty, nothing to retry")
	ErrSystemRoleLocked = errors.New("system role can only be edited on an empty conversation")
	ErrNoBody           = errors.New("response has no body")
	ErrCancelled        = errors.New("request cancelled")

	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("transport failure")
)

// FailureKind classifies a failed generation request.
type FailureKind string

const (
	TransportFailure  FailureKind = "transport"
	StreamReadFailure FailureKind = "stream_read"
)

// TransportError carries the upstream status and body of a failed request.
// Stream read errors use the same type so callers treat them alike.
type TransportError struct {
	Kind       FailureKind
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s failure [%d %s]: %s", e.Kind, e.StatusCode, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s failure", e.Kind)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Code renders the status the way the UI shows it, e.g. "429 Too Many Requests".
func (e *TransportError) Code() string {
	if e.StatusCode == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}
