package vectorstore

import "errors"

// Errors returned by store and index operations.
var (
	ErrStoreNotFound     = errors.New("vector store not found")
	ErrCorruptStore      = errors.New("vector store is corrupt")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidID         = errors.New("vector id out of range")
)
