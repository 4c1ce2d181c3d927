// Package errdefs defines the error kinds returned by attention calls.
//
// Errors are wrapped with fmt.Errorf("%w: ...") at the failure site and
// matched by callers with errors.Is. Every kind is terminal for the call.
package errdefs

import "errors"

var (
	// ErrConfiguration reports a malformed rank, shape or setting detected
	// before any compute runs.
	ErrConfiguration = errors.New("attention configuration error")

	// ErrInvalidBeamIndex reports a beam index outside the current cache batch.
	ErrInvalidBeamIndex = errors.New("invalid beam index")

	// ErrPrecisionUnsupported reports a precision no available kernel can run.
	ErrPrecisionUnsupported = errors.New("precision unsupported")

	// ErrCacheStateInconsistency reports key and value cache states that no
	// longer move in lockstep.
	ErrCacheStateInconsistency = errors.New("kv cache state inconsistency")
)
