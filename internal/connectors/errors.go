package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable: возможность выключена или не настроена на этом хосте.
var ErrUnavailable = errors.New("capability unavailable")

// HandlerError: сбой обработчика. Summary безопасно показывать пользователю,
// Cause пишется только в лог.
type HandlerError struct {
	Summary string
	Cause   error
}

func (e *HandlerError) Error() string {
	if e.Cause == nil {
		return e.Summary
	}
	return fmt.Sprintf("%s: %v", e.Summary, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// Fail оборачивает причину сбоя с безопасным описанием.
func Fail(summary string, cause error) error {
	return &HandlerError{Summary: summary, Cause: cause}
}

// TransientError: временный сбой, вызов можно повторить.
// RetryAfter, если задан, переопределяет экспоненциальную задержку.
type TransientError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsTransient сообщает, стоит ли повторять вызов.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// Summary: безопасное описание сбоя для пользователя.
func Summary(err error) string {
	var hErr *HandlerError
	if errors.As(err, &hErr) && hErr.Summary != "" {
		return hErr.Summary
	}
	if errors.Is(err, ErrUnavailable) {
		return "this capability is not available on this host"
	}
	return "the action failed"
}
