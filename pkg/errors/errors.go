package errors

import (
	"fmt"
	"net/http"
)

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidCredentials      = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken            = "INVALID_TOKEN"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked            = "TOKEN_REVOKED"
	ErrCodeRefreshRejected         = "REFRESH_REJECTED"
	ErrCodeTransientRefreshFailure = "TRANSIENT_REFRESH_FAILURE"
	ErrCodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ErrCodeValidationFailed        = "VALIDATION_FAILED"
	ErrCodeInternalError           = "INTERNAL_ERROR"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeEmailTaken              = "EMAIL_TAKEN"
	ErrCodeBadGateway              = "BAD_GATEWAY"
	ErrCodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
)

// NewAppError creates a new application error
func NewAppError(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Common errors
var (
	ErrInvalidCredentials = NewAppError(ErrCodeInvalidCredentials, "Invalid email or password", http.StatusUnauthorized)
	ErrInvalidToken       = NewAppError(ErrCodeInvalidToken, "Invalid token", http.StatusUnauthorized)
	ErrTokenExpired       = NewAppError(ErrCodeTokenExpired, "Token expired", http.StatusUnauthorized)
	ErrTokenRevoked       = NewAppError(ErrCodeTokenRevoked, "Token revoked", http.StatusUnauthorized)
	ErrRefreshRejected    = NewAppError(ErrCodeRefreshRejected, "Session expired, please sign in again", http.StatusUnauthorized)
	ErrTransientRefresh   = NewAppError(ErrCodeTransientRefreshFailure, "Could not renew session, please try again", http.StatusServiceUnavailable)
	ErrRateLimitExceeded  = NewAppError(ErrCodeRateLimitExceeded, "Too many login attempts", http.StatusTooManyRequests)
	ErrUnauthorized       = NewAppError(ErrCodeUnauthorized, "Unauthorized", http.StatusUnauthorized)
	ErrForbidden          = NewAppError(ErrCodeForbidden, "Access denied", http.StatusForbidden)
	ErrNotFound           = NewAppError(ErrCodeNotFound, "Not found", http.StatusNotFound)
	ErrEmailTaken         = NewAppError(ErrCodeEmailTaken, "Email already in use", http.StatusConflict)
	ErrBadGateway         = NewAppError(ErrCodeBadGateway, "Upstream service error", http.StatusBadGateway)
	ErrUnavailable        = NewAppError(ErrCodeServiceUnavailable, "Service temporarily unavailable", http.StatusServiceUnavailable)
	ErrInternal           = NewAppError(ErrCodeInternalError, "Internal server error", http.StatusInternalServerError)
)
