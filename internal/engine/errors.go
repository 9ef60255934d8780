// Package engine provides agent orchestration functionality.
// This file contains error classification and handling.

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrCancelled is returned when a turn observes its cancel token.
// It maps to the cancelled outcome and is never reported as a turn error.
var ErrCancelled = errors.New("generation cancelled")

// ErrorClass groups provider failures for reporting.
type ErrorClass string

const (
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassServer     ErrorClass = "server"
	ClassNetwork    ErrorClass = "network"
	ClassAuth       ErrorClass = "auth"
	ClassQuota      ErrorClass = "quota"
	ClassBadRequest ErrorClass = "bad_request"
	ClassUnknown    ErrorClass = "unknown"
)

// EngineError wraps provider errors with classification metadata.
// Provider errors are fatal to the current turn and are not retried.
type EngineError struct {
	Err        error
	Class      ErrorClass
	HTTPStatus int
	RetryAfter string
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ClassifyLLMError classifies an error from an LLM provider call.
func ClassifyLLMError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests"):
		return ClassRateLimit
	case strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication"):
		return ClassAuth
	case strings.Contains(errStr, "402") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment required"):
		return ClassQuota
	case strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable"):
		return ClassServer
	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network"):
		return ClassNetwork
	case strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "context length"):
		return ClassBadRequest
	}
	return ClassUnknown
}

// WrapLLMError wraps an LLM provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyLLMError(err)
	switch httpStatus {
	case http.StatusTooManyRequests:
		class = ClassRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		class = ClassAuth
	case http.StatusPaymentRequired:
		class = ClassQuota
	case http.StatusBadRequest:
		class = ClassBadRequest
	}

	return &EngineError{
		Err:        err,
		Class:      class,
		HTTPStatus: httpStatus,
		RetryAfter: retryAfter,
	}
}

// ExtractErrorMetadata pulls an HTTP status code and Retry-After value out
// of an SDK error message.
func ExtractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	for _, code := range []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusBadRequest,
		http.StatusPaymentRequired,
	} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			httpStatus = code
			break
		}
	}

	var retryAfter string
	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			parts := strings.Fields(strings.TrimLeft(errStr[idx+len(marker):], ": "))
			if len(parts) > 0 {
				retryAfter = parts[0]
			}
			break
		}
	}

	return httpStatus, retryAfter
}

// ParseError reports a tool-call block that could not be decoded.
// Parse errors are logged and the block is dropped.
type ParseError struct {
	Block string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed tool call block: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ToolValidationError indicates that tool arguments failed JSON schema validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// EngineContextError wraps errors with the round and operation they came from.
type EngineContextError struct {
	Err       error
	Round     int
	Operation string // "llm_stream", "persist", ...
}

func (e *EngineContextError) Error() string {
	return fmt.Sprintf("[round=%d op=%s] %v", e.Round, e.Operation, e.Err)
}

func (e *EngineContextError) Unwrap() error {
	return e.Err
}

// WrapWithContext wraps an error with execution context for debugging.
func WrapWithContext(err error, st *State, operation string) error {
	if err == nil {
		return nil
	}
	return &EngineContextError{
		Err:       err,
		Round:     st.Round,
		Operation: operation,
	}
}
