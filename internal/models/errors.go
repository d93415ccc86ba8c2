package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes. These are surfaced verbatim in API error responses and
// must never change meaning.
const (
	CodePermissionNotFound     = "PERMISSION_NOT_FOUND"
	CodePermissionCodeNotFound = "PERMISSION_CODE_NOT_FOUND"

	CodePermissionAlreadyExists     = "PERMISSION_ALREADY_EXISTS"
	CodePermissionCombinationExists = "PERMISSION_COMBINATION_EXISTS"

	CodeSystemPermissionImmutable       = "SYSTEM_PERMISSION_IMMUTABLE"
	CodeSystemPermissionDeleteForbidden = "SYSTEM_PERMISSION_DELETE_FORBIDDEN"
	CodeSystemRoleImmutable             = "SYSTEM_ROLE_IMMUTABLE"

	CodePermissionDenied  = "PERMISSION_DENIED"
	CodePermissionExpired = "PERMISSION_EXPIRED"
	CodePermissionInUse   = "PERMISSION_IN_USE"
	CodeGrantNotActive    = "PERMISSION_GRANT_NOT_ACTIVE"

	CodeDependencyCycle    = "PERMISSION_DEPENDENCY_CYCLE"
	CodeDependencyNotFound = "PERMISSION_DEPENDENCY_NOT_FOUND"
	CodeRoleHierarchyCycle = "ROLE_HIERARCHY_CYCLE"

	CodeCacheError              = "PERMISSION_CACHE_ERROR"
	CodeCacheInvalidationFailed = "PERMISSION_CACHE_INVALIDATION_FAILED"

	CodeDBUnavailable       = "PERMISSION_DB_UNAVAILABLE"
	CodeDBQueryFailed       = "PERMISSION_DB_QUERY_FAILED"
	CodeDBTransactionFailed = "PERMISSION_DB_TRANSACTION_FAILED"

	CodeInvalidResource   = "PERMISSION_INVALID_RESOURCE"
	CodeInvalidAction     = "PERMISSION_INVALID_ACTION"
	CodeInvalidScope      = "PERMISSION_INVALID_SCOPE"
	CodeInvalidConditions = "PERMISSION_INVALID_CONDITIONS"
	CodeInvalidQuery      = "PERMISSION_INVALID_QUERY"

	CodeCheckTimeout      = "PERMISSION_CHECK_TIMEOUT"
	CodeRateLimitExceeded = "PERMISSION_RATE_LIMIT_EXCEEDED"

	CodeBatchPartialFailure = "PERMISSION_BATCH_PARTIAL_FAILURE"
	CodeBatchSizeExceeded   = "PERMISSION_BATCH_SIZE_EXCEEDED"

	CodeRoleNotFound      = "ROLE_NOT_FOUND"
	CodeRoleAlreadyExists = "ROLE_ALREADY_EXISTS"
	CodeRoleInUse         = "ROLE_IN_USE"

	CodeUserNotFound  = "USER_NOT_FOUND"
	CodeGroupNotFound = "PERMISSION_GROUP_NOT_FOUND"

	CodeDelegationNotFound       = "DELEGATION_NOT_FOUND"
	CodeDelegationNotHeld        = "DELEGATION_PERMISSIONS_NOT_HELD"
	CodeDelegationAlreadyRevoked = "DELEGATION_ALREADY_REVOKED"
	CodeDelegationInvalidWindow  = "DELEGATION_INVALID_WINDOW"
	CodeDelegationForbidden      = "DELEGATION_FORBIDDEN"

	CodePolicyNotFound     = "POLICY_NOT_FOUND"
	CodePolicyInvalidRules = "POLICY_INVALID_RULES"

	CodeTemplateNotFound = "TEMPLATE_NOT_FOUND"

	CodeHistoryNotFound    = "HISTORY_NOT_FOUND"
	CodeRollbackNotAllowed = "ROLLBACK_NOT_ALLOWED"
	CodeRollbackFailed     = "PERMISSION_ROLLBACK_FAILED"

	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
)

// AppError is the error shape that crosses service and transport boundaries.
// Code is stable; Message is human-readable; Details carries structured
// context such as per-item bulk failures.
type AppError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	HTTPStatus int         `json:"-"`
	Details    interface{} `json:"details,omitempty"`
	Err        error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails attaches structured context and returns the error.
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error and returns the error.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func newError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// Constructors grouped by HTTP class.

func ErrNotFoundf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusNotFound)
}

func ErrConflictf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusConflict)
}

func ErrValidationf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func ErrForbiddenf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusForbidden)
}

func ErrUnavailablef(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusServiceUnavailable)
}

func ErrTimeoutf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusRequestTimeout)
}

func ErrInternalf(code, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), http.StatusInternalServerError)
}

// AsAppError unwraps err to an *AppError if one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
