// Package kennelerr defines the error categories shared across Kennel's components,
// mirroring the taxonomy in the specification's error handling design.
package kennelerr

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("kennel: not found")
	// ErrUnauthorized indicates a signature or credential check failed.
	ErrUnauthorized = errors.New("kennel: unauthorized")
	// ErrBadRequest indicates a malformed or incomplete caller input.
	ErrBadRequest = errors.New("kennel: bad request")
	// ErrConflict indicates a uniqueness or state-machine invariant would be violated.
	ErrConflict = errors.New("kennel: conflict")
	// ErrServiceUnavailable indicates a downstream queue or dependency cannot accept work.
	ErrServiceUnavailable = errors.New("kennel: service unavailable")
	// ErrResourceExhausted indicates a bounded pool (ports, preview databases) has no capacity left.
	ErrResourceExhausted = errors.New("kennel: resource exhausted")
)
