package command

import "errors"

var (
	// ErrCommandNotFound indicates the command ID does not exist.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrInvalidCommand indicates malformed command parameters,
	// rejected before any state mutation.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrInvalidTransition indicates an operation attempted from an
	// incompatible lifecycle state, such as cancelling an in-flight
	// command or retrying one that has not failed.
	ErrInvalidTransition = errors.New("command: invalid state transition")

	// ErrRetryExhausted indicates a retry was requested after the
	// command's retry budget was spent.
	ErrRetryExhausted = errors.New("command: retries exhausted")
)
