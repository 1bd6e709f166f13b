package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the category of a request denial. Every code is a
// recoverable-by-caller condition: the caller can fix the request and retry.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeUnauthorized   ErrorCode = "unauthorized"
	CodePIIDetected    ErrorCode = "pii_detected"
	CodePolicyDenied   ErrorCode = "policy_denied"
	CodeRateLimited    ErrorCode = "rate_limited"

	// CodeInternal covers unexpected failures outside the denial taxonomy.
	CodeInternal ErrorCode = "internal_error"
)

// DomainError represents a structured denial with transport hints
type DomainError struct {
	Code       ErrorCode
	HTTPStatus int
	Message    string
	Details    map[string]interface{}
	Err        error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is: two domain errors match when their codes match
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error with the status hint for its code
func NewDomainError(code ErrorCode, message string, details map[string]interface{}) *DomainError {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &DomainError{
		Code:       code,
		HTTPStatus: statusHint(code),
		Message:    message,
		Details:    details,
	}
}

func statusHint(code ErrorCode) int {
	switch code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePIIDetected, CodePolicyDenied:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for each denial code

func NewInvalidRequest(message string, details map[string]interface{}) *DomainError {
	return NewDomainError(CodeInvalidRequest, message, details)
}

func NewUnauthorized(message string, details map[string]interface{}) *DomainError {
	return NewDomainError(CodeUnauthorized, message, details)
}

func NewPIIDetected(message string, details map[string]interface{}) *DomainError {
	return NewDomainError(CodePIIDetected, message, details)
}

func NewPolicyDenied(message string, details map[string]interface{}) *DomainError {
	return NewDomainError(CodePolicyDenied, message, details)
}

func NewRateLimited(message string, details map[string]interface{}) *DomainError {
	return NewDomainError(CodeRateLimited, message, details)
}

func NewInternal(message string, err error) *DomainError {
	e := NewDomainError(CodeInternal, message, nil)
	e.Err = err
	return e
}

// Error type checking helper functions

// IsInvalidRequestError checks if an error is an invalid request denial
func IsInvalidRequestError(err error) bool {
	return hasCode(err, CodeInvalidRequest)
}

// IsUnauthorizedError checks if an error is an unauthorized denial
func IsUnauthorizedError(err error) bool {
	return hasCode(err, CodeUnauthorized)
}

// IsPIIDetectedError checks if an error is a content screening denial
func IsPIIDetectedError(err error) bool {
	return hasCode(err, CodePIIDetected)
}

// IsPolicyDeniedError checks if an error is a policy denial
func IsPolicyDeniedError(err error) bool {
	return hasCode(err, CodePolicyDenied)
}

// IsRateLimitedError checks if an error is a rate limit denial
func IsRateLimitedError(err error) bool {
	return hasCode(err, CodeRateLimited)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasCode(err, CodeInternal)
}

func hasCode(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode returns the ErrorCode of a domain error, or empty string if
// err is not a domain error
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
