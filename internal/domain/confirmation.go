package domain

import (
	"errors"
	"time"
)

// Статусы конечного автомата подтверждения
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "PENDING"
	StatusConfirmed ConfirmationStatus = "CONFIRMED"
	StatusRejected  ConfirmationStatus = "REJECTED"
	StatusExpired   ConfirmationStatus = "EXPIRED"
)

var (
	ErrInvalidTransition = errors.New("invalid confirmation status transition")
	ErrAlreadyProcessed  = errors.New("confirmation already processed")
)

// PendingConfirmation: разрушительное намерение, ожидающее явного "да"
// от того же пользователя, который его создал.
type PendingConfirmation struct {
	ID        string             `json:"id"`
	Identity  Identity           `json:"identity"`
	Intent    Intent             `json:"-"`
	Status    ConfirmationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// CanTransitionTo проверяет правила конечного автомата
func (p *PendingConfirmation) CanTransitionTo(next ConfirmationStatus) error {
	if p.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// Transition переводит подтверждение в финальный статус.
func (p *PendingConfirmation) Transition(next ConfirmationStatus) error {
	if err := p.CanTransitionTo(next); err != nil {
		return err
	}
	p.Status = next
	return nil
}

// ExpiredAt: истек ли срок ожидания к моменту now. Граница включительно:
// ответ ровно в ExpiresAt уже опоздал.
func (p *PendingConfirmation) ExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
