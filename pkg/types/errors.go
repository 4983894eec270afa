package types

import "errors"

// Store lifecycle errors.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// Object and collection errors.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrInvalidRef         = errors.New("invalid object reference")
	ErrInvalidObject      = errors.New("invalid object")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidDefinition  = errors.New("invalid collection definition")
	ErrTypeMismatch       = errors.New("fact type mismatch")
)

// ErrStopped is returned when a rebuild batch is abandoned because a stop
// was requested. The queue is left untouched.
var ErrStopped = errors.New("rebuild stopped")
