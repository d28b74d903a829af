package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrUploadFailed
	ErrAlreadyProcessed
	ErrEmptyContent
	ErrUnsupportedSource
	ErrDimensionMismatch
	ErrBackendUnavailable
	ErrEmbeddingBackend
	ErrIndexCorrupted
	ErrNoResults
)
