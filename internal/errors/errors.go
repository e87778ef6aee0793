// Package errors provides a lightweight structured error type (PipelineError)
// for category-based classification across the build pipeline and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a pipeline error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryAuth       ErrorCategory = "auth"

	// External system integration errors
	CategoryGit   ErrorCategory = "git"
	CategoryStore ErrorCategory = "store"

	// Build and assembly errors
	CategoryBuild    ErrorCategory = "build"
	CategoryArtifact ErrorCategory = "artifact"
	CategoryManifest ErrorCategory = "manifest"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the pipeline
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// PipelineError is a structured error with category, retryability, and context
type PipelineError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PipelineError
type ContextFields map[string]any

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PipelineError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new PipelineError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// WrapRetryable creates a new retryable PipelineError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// AsPipelineError unwraps err to the first PipelineError in its chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	for err != nil {
		if pe, ok := err.(*PipelineError); ok {
			return pe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCategory reports whether err (or anything it wraps) is a PipelineError
// of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	pe, ok := AsPipelineError(err)
	return ok && pe.Category == category
}
