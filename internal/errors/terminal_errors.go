package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
)

// ErrorCategory represents the different kinds of failure the terminal knows about
type ErrorCategory string

const (
	// Degrade to stale-but-valid display state
	ErrorCategoryDataUnavailable  ErrorCategory = "DATA_UNAVAILABLE"
	ErrorCategoryStreamDegraded   ErrorCategory = "STREAM_DEGRADED"
	ErrorCategoryMalformedMessage ErrorCategory = "MALFORMED_MESSAGE"

	// Order validation, surfaced to the user and never retried
	ErrorCategoryInvalidQuantity     ErrorCategory = "INVALID_QUANTITY"
	ErrorCategoryInvalidPrice        ErrorCategory = "INVALID_PRICE"
	ErrorCategoryInsufficientBalance ErrorCategory = "INSUFFICIENT_BALANCE"
	ErrorCategoryOrderNotFound       ErrorCategory = "ORDER_NOT_FOUND"
	ErrorCategoryExecutionRejected   ErrorCategory = "EXECUTION_REJECTED"

	// Alert definitions
	ErrorCategoryInvalidAlert  ErrorCategory = "INVALID_ALERT"
	ErrorCategoryAlertNotFound ErrorCategory = "ALERT_NOT_FOUND"

	// Start-up only
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
)

// Sentinels for errors.Is matching by category
var (
	ErrDataUnavailable     = &TerminalError{Category: ErrorCategoryDataUnavailable}
	ErrStreamDegraded      = &TerminalError{Category: ErrorCategoryStreamDegraded}
	ErrMalformedMessage    = &TerminalError{Category: ErrorCategoryMalformedMessage}
	ErrInvalidQuantity     = &TerminalError{Category: ErrorCategoryInvalidQuantity}
	ErrInvalidPrice        = &TerminalError{Category: ErrorCategoryInvalidPrice}
	ErrInsufficientBalance = &TerminalError{Category: ErrorCategoryInsufficientBalance}
	ErrOrderNotFound       = &TerminalError{Category: ErrorCategoryOrderNotFound}
	ErrExecutionRejected   = &TerminalError{Category: ErrorCategoryExecutionRejected}
	ErrInvalidAlert        = &TerminalError{Category: ErrorCategoryInvalidAlert}
	ErrAlertNotFound       = &TerminalError{Category: ErrorCategoryAlertNotFound}
	ErrConfiguration       = &TerminalError{Category: ErrorCategoryConfiguration}
)

// TerminalError represents a categorized error with context
type TerminalError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *TerminalError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "operation failed"
	}
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, msg, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, msg)
}

// Unwrap returns the underlying error for error unwrapping
func (e *TerminalError) Unwrap() error {
	return e.Underlying
}

// Is matches any TerminalError of the same category
func (e *TerminalError) Is(target error) bool {
	t, ok := target.(*TerminalError)
	if !ok {
		return false
	}
	return t.Category == e.Category
}

// IsRetryable returns whether this error can be retried
func (e *TerminalError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the process
func (e *TerminalError) IsFatal() bool {
	return e.Category == ErrorCategoryConfiguration
}

// NewTerminalError creates a new categorized error
func NewTerminalError(category ErrorCategory, component, operation, message string) *TerminalError {
	return &TerminalError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with terminal error context
func WrapError(err error, category ErrorCategory, component, operation string) *TerminalError {
	if err == nil {
		return nil
	}

	return &TerminalError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *TerminalError) WithContext(key string, value interface{}) *TerminalError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryDataUnavailable, ErrorCategoryStreamDegraded:
		return true
	default:
		return false
	}
}

// CategoryOf returns the category of err, or "" when err carries none
func CategoryOf(err error) ErrorCategory {
	var te *TerminalError
	if stderrors.As(err, &te) {
		return te.Category
	}
	return ""
}

// Common error constructors
func NewDataUnavailable(component, operation string, err error) *TerminalError {
	return WrapError(err, ErrorCategoryDataUnavailable, component, operation)
}

func NewStreamDegraded(component, operation string, err error) *TerminalError {
	return WrapError(err, ErrorCategoryStreamDegraded, component, operation)
}

func NewMalformedMessage(component, operation string, err error) *TerminalError {
	return WrapError(err, ErrorCategoryMalformedMessage, component, operation)
}

func NewValidationError(category ErrorCategory, component, operation, message string) *TerminalError {
	return NewTerminalError(category, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *TerminalError {
	return NewTerminalError(ErrorCategoryConfiguration, component, operation, message)
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	mu               sync.Mutex
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*TerminalError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*TerminalError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics. Errors without a category
// are counted as DATA_UNAVAILABLE.
func (es *ErrorStats) RecordError(err error) {
	if err == nil {
		return
	}
	var te *TerminalError
	if !stderrors.As(err, &te) {
		te = WrapError(err, ErrorCategoryDataUnavailable, "unknown", "unknown")
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.TotalErrors++
	es.ErrorsByCategory[te.Category]++

	es.RecentErrors = append(es.RecentErrors, te)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// Recent returns the messages of the most recent errors, oldest first
func (es *ErrorStats) Recent() []string {
	es.mu.Lock()
	defer es.mu.Unlock()

	out := make([]string, len(es.RecentErrors))
	for i, e := range es.RecentErrors {
		out[i] = e.Error()
	}
	return out
}

// Count returns the number of recorded errors of a category
func (es *ErrorStats) Count(category ErrorCategory) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.ErrorsByCategory[category]
}
