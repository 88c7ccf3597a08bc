// Package errors provides a structured error system for StrataCache with error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Backend errors
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendRead        ErrorCode = "BACKEND_READ"
	ErrCodeBackendWrite       ErrorCode = "BACKEND_WRITE"
	ErrCodeBackendDelete      ErrorCode = "BACKEND_DELETE"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"

	// Serialization errors
	ErrCodeEncode ErrorCode = "ENCODE_FAILED"
	ErrCodeDecode ErrorCode = "DECODE_FAILED"

	// Invalidation errors
	ErrCodeRuleExists   ErrorCode = "RULE_EXISTS"
	ErrCodeRuleNotFound ErrorCode = "RULE_NOT_FOUND"

	// Warming errors
	ErrCodeTaskExists   ErrorCode = "TASK_EXISTS"
	ErrCodeTaskNotFound ErrorCode = "TASK_NOT_FOUND"
	ErrCodeComputeFail  ErrorCode = "COMPUTE_FAILED"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotStarted     ErrorCode = "NOT_STARTED"
	ErrCodeClosed         ErrorCode = "CLOSED"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes for reporting.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryBackend       ErrorCategory = "backend"
	CategorySerialization ErrorCategory = "serialization"
	CategoryInvalidation  ErrorCategory = "invalidation"
	CategoryWarming       ErrorCategory = "warming"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches two CacheErrors by code.
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// New creates a new structured error.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// Newf creates a new structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *CacheError {
	e := New(code, message)
	e.Cause = err
	return e
}

// WithComponent attaches the originating component name.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation attaches the failing operation name.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithContext attaches a contextual key/value pair.
func (e *CacheError) WithContext(key, value string) *CacheError {
	e.Context[key] = value
	return e
}

// GetCategory determines the category from the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "BACKEND_") || strings.HasPrefix(codeStr, "CIRCUIT_"):
		return CategoryBackend
	case strings.HasPrefix(codeStr, "ENCODE_") || strings.HasPrefix(codeStr, "DECODE_"):
		return CategorySerialization
	case strings.HasPrefix(codeStr, "RULE_"):
		return CategoryInvalidation
	case strings.HasPrefix(codeStr, "TASK_") || strings.HasPrefix(codeStr, "COMPUTE_"):
		return CategoryWarming
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_STARTED") ||
		strings.HasPrefix(codeStr, "CLOSED"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// GetCode extracts the ErrorCode from any error, ErrCodeInternal when unstructured.
func GetCode(err error) ErrorCode {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code
	}
	return ErrCodeInternal
}
