package domain

import (
	"errors"
	"fmt"
)

// Таксономия отказов конвейера. Каждый этап шлюза закрывается на отказ:
// любая ошибка здесь означает, что действие не исполнялось.
var (
	ErrUnauthorizedIdentity = errors.New("unauthorized identity")
	ErrRateLimited          = errors.New("rate limited")
	ErrInvalidToken         = errors.New("invalid command token")
	ErrInterpretation       = errors.New("interpretation error")
	ErrPolicyDenied         = errors.New("policy denied")
	ErrConfirmationExpired  = errors.New("confirmation expired")
	ErrConfirmationMismatch = errors.New("confirmation mismatch")
	ErrHandlerFailure       = errors.New("handler failure")
)

// GateError несет категорию (Kind), безопасную для пользователя причину
// и исходную ошибку, которая уходит только в журнал.
type GateError struct {
	Kind   error
	Reason string
	Err    error
}

func NewGateError(kind error, reason string, cause error) *GateError {
	return &GateError{Kind: kind, Reason: reason, Err: cause}
}

func (e *GateError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is позволяет писать errors.Is(err, ErrPolicyDenied).
func (e *GateError) Is(target error) bool {
	return e.Kind == target
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// SafeMessage превращает любую ошибку в текст для пользователя.
// Для шлюзовых отказов причина не раскрывается, чтобы нельзя было
// перебрать список разрешенных идентификаторов или путей.
func SafeMessage(err error) string {
	var gErr *GateError
	reason := ""
	if errors.As(err, &gErr) {
		reason = gErr.Reason
	}

	switch {
	case errors.Is(err, ErrUnauthorizedIdentity):
		return "⛔ Access denied."
	case errors.Is(err, ErrRateLimited):
		return "⏳ Too many requests. Please slow down."
	case errors.Is(err, ErrInvalidToken):
		return "⛔ Access denied."
	case errors.Is(err, ErrInterpretation):
		return "🤔 I couldn't understand that request. Could you rephrase it?"
	case errors.Is(err, ErrPolicyDenied):
		if reason == "" {
			reason = "not permitted"
		}
		return "🚫 Request denied: " + reason + "."
	case errors.Is(err, ErrConfirmationExpired):
		return "⌛ Confirmation expired. Please send the request again."
	case errors.Is(err, ErrConfirmationMismatch):
		return "There is no pending action for you to confirm."
	case errors.Is(err, ErrHandlerFailure):
		if reason == "" {
			reason = "the action failed"
		}
		return "❌ " + reason + "."
	default:
		return "❌ Internal error."
	}
}
