package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine error taxonomy.
var (
	ErrEmptyDocument   = errors.New("empty document")
	ErrNoPages         = errors.New("document has no pages")
	ErrMissingDocID    = errors.New("missing doc_id")
	ErrChunkTooLarge   = errors.New("chunk exceeds hard character cap")
	ErrMissingText     = errors.New("payload missing non-empty text")
	ErrMissingField    = errors.New("payload missing required field")
	ErrBadVector       = errors.New("vector has wrong dimension")
	ErrEmptyRecordID   = errors.New("record id is empty")
	ErrUnknownStrategy = errors.New("unknown chunk strategy")
)

// ValidationError is a schema violation in a record or payload. It is fatal
// for the affected batch and never retried automatically.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// StructuralError rejects a document from ingestion without affecting other
// documents in a batch.
type StructuralError struct {
	DocID   string
	Wrapped error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural: doc %s: %s", e.DocID, e.Wrapped)
}

func (e *StructuralError) Unwrap() error { return e.Wrapped }

// NewStructuralError creates a StructuralError.
func NewStructuralError(docID string, wrapped error) *StructuralError {
	return &StructuralError{DocID: docID, Wrapped: wrapped}
}

// ProviderError is a remote-call failure (embedding, reranker, vector
// search). Retryable tells the caller whether backoff-and-retry is sensible;
// where a degraded-mode fallback exists the caller absorbs the error instead.
type ProviderError struct {
	Provider  string
	Retryable bool
	Wrapped   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Wrapped)
}

func (e *ProviderError) Unwrap() error { return e.Wrapped }

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, retryable bool, wrapped error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: retryable, Wrapped: wrapped}
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
