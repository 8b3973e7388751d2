package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by New when a required connection
	// parameter is missing.
	ErrNotConfigured = errors.New("scheduler: not configured")

	// ErrNotFound is returned by admin lookups of an unknown id.
	ErrNotFound = errors.New("scheduler: schedule not found")

	// ErrPayloadDecode marks payloads that could not be decoded. It is never
	// returned for scheduling failures.
	ErrPayloadDecode = errors.New("scheduler: payload decode")
)

// DecodeError reports an acquired row whose payload could not be decoded.
// The lease is still held; ID and Token can be handed to Engine.Retry.
type DecodeError struct {
	ID    int64
	Token string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload of schedule %d: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrPayloadDecode, e.Err} }
