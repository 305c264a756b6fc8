package internalerr

import "errors"

// Sentinel errors for the pipeline's failure taxonomy
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrMalformedItem     = errors.New("malformed item")
	ErrStoreWrite        = errors.New("store write failed")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrNoSources         = errors.New("no sources configured")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicate         = errors.New("duplicate entry")
)
