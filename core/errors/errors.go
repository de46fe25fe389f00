// Package errors provides standardized error types and helpers for the kicad-lcsc codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrMalformedDocument indicates unbalanced or truncated document structure
	ErrMalformedDocument = errors.New("malformed document")
	// ErrUnsupportedValue indicates a value that cannot be embedded safely
	ErrUnsupportedValue = errors.New("unsupported value")
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
)

// MalformedError reports a structural defect in a scanned document, such as
// an opening delimiter with no matching close before end of input.
type MalformedError struct {
	Path    string // Source file, if known
	Offset  int    // Byte offset of the offending delimiter
	Message string // What went wrong
	Err     error  // Underlying error, if any
}

func (e *MalformedError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("malformed document %s: %s at offset %d", e.Path, e.Message, e.Offset)
	}
	return fmt.Sprintf("malformed document: %s at offset %d", e.Message, e.Offset)
}

func (e *MalformedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformedDocument
}

// UnsupportedValueError reports a field value that cannot be embedded in a
// quoted string without corrupting the surrounding document.
type UnsupportedValueError struct {
	Field  string // Field the value was destined for
	Value  string // The offending value
	Reason string // Why it cannot be embedded
	Err    error  // Underlying error, if any
}

func (e *UnsupportedValueError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("unsupported value for %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("unsupported value: %s", e.Reason)
}

func (e *UnsupportedValueError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupportedValue
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "part", "cache entry", "column")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// LookupError represents a catalog lookup that failed for a reason other
// than the part being absent (transport failure, unexpected status).
type LookupError struct {
	Code   string // Part code being looked up
	Status int    // HTTP status, if the request got that far
	Err    error  // Underlying error
}

func (e *LookupError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("lookup failed for %s: status %d", e.Code, e.Status)
	}
	return fmt.Sprintf("lookup failed for %s: %v", e.Code, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a parsing or deserialization error
type ParseError struct {
	Format  string // Format being parsed (e.g., "JSON", "netlist", "config")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// UnsupportedError represents an unsupported feature or format
type UnsupportedError struct {
	Feature string // Feature or format that is unsupported
	Reason  string // Why it's not supported
	Err     error  // Underlying error, if any
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// Helper functions for creating common errors

// NewMalformed creates a MalformedError
func NewMalformed(path string, offset int, message string) *MalformedError {
	return &MalformedError{
		Path:    path,
		Offset:  offset,
		Message: message,
	}
}

// NewUnsupportedValue creates an UnsupportedValueError
func NewUnsupportedValue(field, value, reason string) *UnsupportedValueError {
	return &UnsupportedValueError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewLookup creates a LookupError
func NewLookup(code string, status int, err error) *LookupError {
	return &LookupError{
		Code:   code,
		Status: status,
		Err:    err,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{
		Feature: feature,
		Reason:  reason,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
