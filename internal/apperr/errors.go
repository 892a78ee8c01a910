// Package apperr holds the sentinel errors shared by storage, the journal,
// sessions and the API layer.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	// ErrReadOnly rejects local edits in read-only mode.
	ErrReadOnly = errors.New("read only")
	// ErrInvalidValue marks a document that failed schema validation.
	ErrInvalidValue = errors.New("invalid value")
)
