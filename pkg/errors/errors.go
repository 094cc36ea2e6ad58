package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// ErrConfiguration marks a topology or option combination that cannot run.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrCommunicationTimeout is returned when a peer does not answer in time.
	ErrCommunicationTimeout = errors.New("communication timeout")
	ErrRestore              = errors.New("failed to restore checkpoint")
	ErrUnsupportedMode      = errors.New("unsupported training mode")
)
