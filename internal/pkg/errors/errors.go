package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")

	// ErrInvalidInput is the validation failure for caller supplied payloads.
	ErrInvalidInput = fmt.Errorf("%w: input", ErrInvalid)

	ErrAlreadyProcessed   = errors.New("resource already processed")
	ErrEmptyContent       = errors.New("resource produced no content")
	ErrUnsupportedSource  = errors.New("unsupported source type")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrShapeMismatch      = errors.New("vectors and ids length mismatch")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrEmbeddingBackend   = errors.New("embedding backend returned malformed output")
	ErrCorruption         = errors.New("index corrupted")
	ErrNoResults          = errors.New("no relevant results")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Unavailable wraps a transport level failure so callers may retry.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
