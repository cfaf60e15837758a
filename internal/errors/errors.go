package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Credential denials
	ErrCodeCredentialNotFound    ErrorCode = "CREDENTIAL_NOT_FOUND"
	ErrCodeCredentialAlreadyUsed ErrorCode = "CREDENTIAL_ALREADY_USED"
	ErrCodeCredentialTooEarly    ErrorCode = "CREDENTIAL_TOO_EARLY"
	ErrCodeCredentialExpired     ErrorCode = "CREDENTIAL_EXPIRED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Transient I/O against collaborators
	ErrCodeBookingUnreachable ErrorCode = "BOOKING_UNREACHABLE"
	ErrCodeLockUnreachable    ErrorCode = "LOCK_UNREACHABLE"
	ErrCodeNotifyFailed       ErrorCode = "NOTIFY_FAILED"

	// Code generation fell back to the deterministic path
	ErrCodeGenerationDegraded ErrorCode = "GENERATION_DEGRADED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// InvalidCode covers presentment of a code or token the validator does not
// track. The message is deliberately vague; callers learn nothing about which
// credentials exist.
func InvalidCode() *AppError {
	return New(ErrCodeCredentialNotFound, "Invalid code")
}

func AlreadyUsed() *AppError {
	return New(ErrCodeCredentialAlreadyUsed, "Token already used")
}

// TooEarly reports presentment before the validity window opens. The message
// includes the local wall-clock opening time.
func TooEarly(validFrom time.Time) *AppError {
	return New(ErrCodeCredentialTooEarly,
		fmt.Sprintf("Too early — access starts at %s", validFrom.Format("15:04")))
}

func Expired() *AppError {
	return New(ErrCodeCredentialExpired, "Token expired")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func BookingUnreachable(cause error) *AppError {
	return Wrap(ErrCodeBookingUnreachable, "Booking source unreachable", cause)
}

func LockUnreachable(op string, cause error) *AppError {
	return Wrap(ErrCodeLockUnreachable, fmt.Sprintf("Lock %s failed", op), cause)
}

func NotifyFailed(cause error) *AppError {
	return Wrap(ErrCodeNotifyFailed, "Notification delivery failed", cause)
}

func GenerationDegraded(reason string) *AppError {
	return New(ErrCodeGenerationDegraded, fmt.Sprintf("Code generation degraded: %s", reason))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsTransient reports whether the error is a transient collaborator failure
// that may clear on a later cycle. Transient errors are never retried
// automatically; they surface through logs, health, and admin alerts.
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodeBookingUnreachable, ErrCodeLockUnreachable, ErrCodeNotifyFailed:
		return true
	}
	return false
}

// IsDenial reports whether the error is a credential presentment denial.
func IsDenial(err error) bool {
	switch GetCode(err) {
	case ErrCodeCredentialNotFound, ErrCodeCredentialAlreadyUsed,
		ErrCodeCredentialTooEarly, ErrCodeCredentialExpired:
		return true
	}
	return false
}
