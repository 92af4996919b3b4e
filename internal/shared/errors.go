package shared

import "errors"

// Error categories. Domain errors wrap exactly one of these so transports can
// decide how to surface them without knowing every domain sentinel.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before reaching the persistence layer.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the caller acted on stale data and must refresh.
	ErrConflict = errors.New("stale data, please refresh")
	// ErrUnavailable indicates the collaborator could not be reached; retryable.
	ErrUnavailable = errors.New("service unavailable")
	// ErrMalformedRecord indicates a collaborator record that failed normalization.
	ErrMalformedRecord = errors.New("malformed record")
)
