package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *CacheError
		expected string
	}{
		{
			name:     "bare",
			err:      New(ErrCodeRuleExists, "rule taken"),
			expected: "RULE_EXISTS: rule taken",
		},
		{
			name:     "with component",
			err:      New(ErrCodeBackendRead, "read failed").WithComponent("redis"),
			expected: "[redis] BACKEND_READ: read failed",
		},
		{
			name:     "with component and operation",
			err:      New(ErrCodeBackendRead, "read failed").WithComponent("redis").WithOperation("get"),
			expected: "[redis:get] BACKEND_READ: read failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrCodeBackendUnavailable, "backend down")

	if !errors.Is(err, cause) {
		t.Error("expected wrapped error to unwrap to cause")
	}
	if err.Category != CategoryBackend {
		t.Errorf("expected backend category, got %s", err.Category)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(ErrCodeTaskExists, "one").WithComponent("warming")
	target := New(ErrCodeTaskExists, "different message")

	if !errors.Is(err, target) {
		t.Error("expected errors with the same code to match")
	}
	if errors.Is(err, New(ErrCodeRuleExists, "other code")) {
		t.Error("expected different codes not to match")
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeConfigValidation, CategoryConfiguration},
		{ErrCodeBackendWrite, CategoryBackend},
		{ErrCodeCircuitOpen, CategoryBackend},
		{ErrCodeDecode, CategorySerialization},
		{ErrCodeRuleNotFound, CategoryInvalidation},
		{ErrCodeComputeFail, CategoryWarming},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeClosed, CategoryState},
		{ErrCodeInternal, CategoryInternal},
	}
	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.code, tt.expected, got)
		}
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeEncode, "x")); got != ErrCodeEncode {
		t.Errorf("expected ENCODE_FAILED, got %s", got)
	}
	if got := GetCode(fmt.Errorf("plain")); got != ErrCodeInternal {
		t.Errorf("expected INTERNAL_ERROR for unstructured error, got %s", got)
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeBackendRead, "x").WithContext("key", "user:1")
	if err.Context["key"] != "user:1" {
		t.Errorf("expected context recorded, got %v", err.Context)
	}
}
