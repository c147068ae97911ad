package service

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the service layer. Handlers map these onto
// HTTP status codes; workers store them on the owning job instead of
// letting them escape.
var (
	// ErrInvalidAudio marks unsupported or corrupt input. Terminal, no retry.
	ErrInvalidAudio = errors.New("invalid audio")

	// ErrNotFound covers unknown ids, expired records and wrong-state lookups.
	ErrNotFound = errors.New("not found")

	// ErrNotReady is returned when a result is requested before the job
	// reaches a terminal state.
	ErrNotReady = errors.New("job not ready")

	// ErrStorage wraps I/O failures against the storage backend.
	ErrStorage = errors.New("storage error")

	// ErrAdapterFailure wraps a failed external model call. It is caught at
	// the stage boundary and converted into a failed job.
	ErrAdapterFailure = errors.New("adapter failure")

	// ErrOutOfOrder marks a streaming chunk that violates sequence order.
	ErrOutOfOrder = errors.New("chunk out of order")

	// ErrSessionClosed is returned for operations on a closed realtime session.
	ErrSessionClosed = errors.New("session closed")
)

// StageError identifies which pipeline stage failed so clients can present
// an actionable message.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
