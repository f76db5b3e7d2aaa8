package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource (document, archived file).
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExtraction signals an unreadable or corrupt source file.
	ErrExtraction = errors.New("text extraction failed")
	// ErrUnsupportedFormat signals a file extension with no registered extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmbedding signals an embedding provider failure.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrVectorStore signals a persistence layer failure.
	ErrVectorStore = errors.New("vector store error")
	// ErrCompletion signals a completion model failure.
	ErrCompletion = errors.New("completion provider error")

	// ErrTransient marks a provider failure worth one retry: rate limiting,
	// 5xx, or a network error. It always accompanies another sentinel.
	ErrTransient = errors.New("transient")

	// ErrNoContext is the soft retrieval outcome: nothing relevant was found.
	// Callers switch to no-context mode; it is not logged as a failure.
	ErrNoContext = errors.New("no context available")
)

// UnsupportedFormatError carries the rejected extension.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return ErrUnsupportedFormat.Error() + ": file has no extension"
	}
	return fmt.Sprintf("%s: %q", ErrUnsupportedFormat.Error(), e.Ext)
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// NewUnsupportedFormat creates an unsupported format error for ext.
func NewUnsupportedFormat(ext string) error {
	return &UnsupportedFormatError{Ext: ext}
}
