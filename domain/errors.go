package domain

import "errors"

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrNotFound is returned by commands addressing an entity that does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status change is not allowed from
// the entity's current state.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidInput is returned for commands missing required values.
var ErrInvalidInput = errors.New("invalid input")

// ErrForbidden is returned when the actor may not modify the entity.
var ErrForbidden = errors.New("forbidden")
