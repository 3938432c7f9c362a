package app

import (
	"errors"
	"fmt"

	"ideaforge/pkg/ledger"
)

var (
	// ErrNotFound is wrapped by every missing-entity error.
	ErrNotFound         = errors.New("not found")
	ErrProjectNotFound  = fmt.Errorf("project %w", ErrNotFound)
	ErrDocumentNotFound = fmt.Errorf("document %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)

	ErrForbidden = errors.New("forbidden")

	// ErrDocumentBusy means another request is generating the same document.
	ErrDocumentBusy = errors.New("document is already being generated")
	// ErrInvalidTransition means the document is not in a state that allows the
	// requested lifecycle step.
	ErrInvalidTransition = errors.New("invalid document state transition")
	ErrDocumentNotReady  = errors.New("document has no completed content")

	ErrExportDisabled = errors.New("document export is not configured")

	// ErrInsufficientCredits is the ledger's declined outcome, re-exported for handlers.
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
)

// ValidationError reports bad input caught before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a store failure. During a terminal-state write it can
// leave a document in generating; callers may retry the whole generation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
