package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeInvalidInput      ErrorType = "invalid_input"
	ErrorTypeEmptyRange        ErrorType = "empty_range"
	ErrorTypePageLimitExceeded ErrorType = "page_limit_exceeded"
	ErrorTypeRender            ErrorType = "render"
	ErrorTypeNoValidInput      ErrorType = "no_valid_input"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeIO                ErrorType = "io"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// Sentinels usable with errors.Is for every kind in the taxonomy.
var (
	ErrInvalidInput      = &DomainError{Type: ErrorTypeInvalidInput}
	ErrEmptyRange        = &DomainError{Type: ErrorTypeEmptyRange}
	ErrPageLimitExceeded = &DomainError{Type: ErrorTypePageLimitExceeded}
	ErrRender            = &DomainError{Type: ErrorTypeRender}
	ErrNoValidInput      = &DomainError{Type: ErrorTypeNoValidInput}
)

// kinded is implemented by every error type of this package.
type kinded interface {
	Kind() ErrorType
}

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Kind reports the taxonomy bucket of the error.
func (e *DomainError) Kind() ErrorType {
	return e.Type
}

// Is matches any error of the same kind, so sentinels work with errors.Is.
func (e *DomainError) Is(target error) bool {
	return isKind(e.Type, target)
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func InvalidInputError(message string, err error) *DomainError {
	return NewError(ErrorTypeInvalidInput, message, err)
}

func NoValidInputError(message string) *DomainError {
	return NewError(ErrorTypeNoValidInput, message, nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// EmptyRangeError reports a page selection of zero or negative width.
type EmptyRangeError struct {
	Total int
	Start int
	End   int
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("[%s] no pages left to convert: document has %d pages, selection [%d, %d) is empty",
		ErrorTypeEmptyRange, e.Total, e.Start, e.End)
}

func (e *EmptyRangeError) Kind() ErrorType { return ErrorTypeEmptyRange }

func (e *EmptyRangeError) Is(target error) bool { return isKind(ErrorTypeEmptyRange, target) }

// PageLimitExceededError reports a selection larger than the configured ceiling.
type PageLimitExceededError struct {
	Count int
	Limit int
}

func (e *PageLimitExceededError) Error() string {
	return fmt.Sprintf("[%s] PDF would produce %d pages, exceeds limit of %d",
		ErrorTypePageLimitExceeded, e.Count, e.Limit)
}

func (e *PageLimitExceededError) Kind() ErrorType { return ErrorTypePageLimitExceeded }

func (e *PageLimitExceededError) Is(target error) bool {
	return isKind(ErrorTypePageLimitExceeded, target)
}

// RenderError reports a page that could not be rasterized or encoded.
// Index is the zero-based page index in the source document, Ordinal the
// 1-based position inside the output archive.
type RenderError struct {
	Index   int
	Ordinal int
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("[%s] page %d (entry %d): %v", ErrorTypeRender, e.Index+1, e.Ordinal, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Kind() ErrorType { return ErrorTypeRender }

func (e *RenderError) Is(target error) bool { return isKind(ErrorTypeRender, target) }

// KindOf classifies err, looking through wrapping.
func KindOf(err error) ErrorType {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ErrorTypeUnknown
}

// IsValidation reports whether err belongs to a kind that is detected
// before any output is produced.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case ErrorTypeInvalidInput, ErrorTypeEmptyRange, ErrorTypePageLimitExceeded, ErrorTypeNoValidInput:
		return true
	}
	return false
}

func isKind(kind ErrorType, target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Message == "" && t.Err == nil && t.Type == kind
}
