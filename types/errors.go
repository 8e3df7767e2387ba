package types

import "errors"

// Sentinel error kinds. Callers should use errors.Is against these,
// never string-match on Error().
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrDuplicateRelation  = errors.New("duplicate relation")
	ErrStorage            = errors.New("storage error")
	ErrThrottled          = errors.New("throttled")
	ErrCancelled          = errors.New("operation cancelled")
	ErrReadOnlySnapshot   = errors.New("read-only snapshot")
	ErrFatal              = errors.New("fatal error")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrEndpointMissing    = errors.New("relation endpoint missing")
	ErrVectorRequired     = errors.New("vector required")
	ErrStorageNotCOW      = errors.New("storage backend is not COW-capable")
	ErrForkFailed         = errors.New("fork failed")
)
