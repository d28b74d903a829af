package vectorindex

import (
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// CorruptionError reports that the persisted vector file and id map
// disagree. The index refuses to serve until Reset is called.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return "index corrupted: " + e.Reason
}

func (e *CorruptionError) Unwrap() error {
	return appErr.ErrCorruption
}

func corruption(reason string) error {
	return &CorruptionError{Reason: reason}
}
