package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate value")

// ErrStale is returned when a conditional update matched no row because the
// row changed since it was read.
var ErrStale = errors.New("stale row")
