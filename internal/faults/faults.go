// Package faults defines the error taxonomy shared by the coordinators,
// the store clients and the HTTP layer. Errors are tagged by wrapping one
// of the sentinels below so callers can classify with errors.Is without
// caring which store produced the failure.
package faults

import (
	"errors"
	"fmt"
)

var (
	// Caller faults, never retried.
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("unauthorized")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")

	// Infrastructure faults, retried per the store client's policy.
	ErrConnection = errors.New("connection failure")
	ErrStore      = errors.New("vector store failure")
	ErrStorage    = errors.New("object storage failure")
	ErrMetadata   = errors.New("metadata store failure")
	ErrEmbedding  = errors.New("embedding failure")

	// Configuration faults. These indicate model/schema version skew and
	// must be fixed operationally, never by retrying.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrSchemaMismatch    = errors.New("collection schema mismatch")
)

// Tag wraps err with a taxonomy sentinel. Both chains stay visible to
// errors.Is, so the original store error is never swallowed.
func Tag(sentinel, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Tagf is Tag with a formatted message instead of a wrapped cause.
func Tagf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Retryable reports whether err is an infrastructure fault worth retrying.
// Configuration and caller faults are always final.
func Retryable(err error) bool {
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrSchemaMismatch) {
		return false
	}
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrStore) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrMetadata) ||
		errors.Is(err, ErrEmbedding)
}
