package discovery

import "errors"

// Sentinel errors shared across queue and resolver implementations.
var (
	// ErrNoJob signals that no eligible pending job exists right now.
	ErrNoJob = errors.New("no job available")

	// ErrJobNotFound signals an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition signals a lifecycle operation applied to a job whose
	// current status does not permit it.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrMissingScope signals a resolver call without the required
	// scope-identifying fields. This is a caller contract violation, never
	// retried and never defaulted.
	ErrMissingScope = errors.New("missing required scope fields")
)
