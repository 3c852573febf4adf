// AngelaMos | 2026
// errors.go

package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrForbidden    = errors.New("forbidden")

	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
	ErrTokenReused  = errors.New("token reused")
	ErrTokenUsed    = errors.New("token already used")

	ErrAccountLocked = errors.New("account locked")
	ErrRateExceeded  = errors.New("rate exceeded")
)

// AppError is the request-boundary error shape: a stable machine-readable
// code, an HTTP status and a human message. Internal causes stay wrapped and
// are never serialized to clients.
type AppError struct {
	Err     error
	Message string
	Status  int
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, status int, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Status:  status,
		Code:    code,
	}
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func UnauthorizedError(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return NewAppError(nil, message, http.StatusUnauthorized, "UNAUTHORIZED")
}

func ForbiddenError(message string) *AppError {
	if message == "" {
		message = "insufficient permissions"
	}
	return NewAppError(nil, message, http.StatusForbidden, "FORBIDDEN")
}

func NotFoundError(resource string) *AppError {
	return NewAppError(
		ErrNotFound,
		fmt.Sprintf("%s not found", resource),
		http.StatusNotFound,
		"NOT_FOUND",
	)
}

func DuplicateError(field string) *AppError {
	return NewAppError(
		ErrDuplicateKey,
		fmt.Sprintf("%s already in use", field),
		http.StatusConflict,
		"DUPLICATE",
	)
}

func TokenInvalidError() *AppError {
	return NewAppError(
		ErrTokenInvalid,
		"invalid credential",
		http.StatusUnauthorized,
		"TOKEN_INVALID",
	)
}

func TokenExpiredError() *AppError {
	return NewAppError(
		ErrTokenExpired,
		"credential expired",
		http.StatusUnauthorized,
		"TOKEN_EXPIRED",
	)
}

func TokenRevokedError() *AppError {
	return NewAppError(
		ErrTokenRevoked,
		"credential revoked",
		http.StatusUnauthorized,
		"TOKEN_REVOKED",
	)
}

func TokenReusedError() *AppError {
	return NewAppError(
		ErrTokenReused,
		"please sign in again",
		http.StatusUnauthorized,
		"TOKEN_REUSED",
	)
}

func AccountLockedError(retryAfter time.Duration) *AppError {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return NewAppError(
		ErrAccountLocked,
		fmt.Sprintf("account temporarily locked, retry in %d seconds", secs),
		http.StatusTooManyRequests,
		"ACCOUNT_LOCKED",
	)
}

func RateExceededError(retryAfter time.Duration) *AppError {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return NewAppError(
		ErrRateExceeded,
		fmt.Sprintf("rate limit exceeded, retry in %d seconds", secs),
		http.StatusTooManyRequests,
		"RATE_LIMITED",
	)
}
