package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrKeyNotFound       = errors.New("key not found")
	ErrTooSoon           = errors.New("collection version changed too recently")
	ErrResumeUnsupported = errors.New("resuming from a cursor is not supported")
	ErrInvalidInput      = errors.New("invalid input")
	ErrQueueBackend      = errors.New("queue backend error")
	ErrSerialization     = errors.New("malformed event payload")
	ErrIndexRejected     = errors.New("index write rejected")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// TooSoonError reports a collection-version bump attempted before the
// configured minimum interval elapsed. It carries the last change time and
// the interval so callers can tell when a retry would succeed.
type TooSoonError struct {
	LastChanged time.Time
	MinInterval time.Duration
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("collection version changed at %s, minimum interval between changes is %s",
		e.LastChanged.Format(time.RFC3339), e.MinInterval)
}

func (e *TooSoonError) Unwrap() error {
	return ErrTooSoon
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrResumeUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueBackend), errors.Is(err, ErrIndexRejected), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
