package point

import (
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrNotFound      = apperr.New(apperr.NotFound, "point: balance not found")
	ErrInvalidAmount = apperr.New(apperr.BadRequest, "point: amount must be greater than zero")
	ErrInsufficient  = apperr.New(apperr.BadRequest, "point: insufficient balance")
	ErrLockTimeout   = apperr.New(apperr.Conflict, "point: lock wait timeout")
)

// Balance is a buyer's reward point balance. It never goes below zero.
type Balance struct {
	UserID    string
	Amount    int64
	Version   int64
	UpdatedAt time.Time
}

func New(userID string, amount int64) (*Balance, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return &Balance{
		UserID:    userID,
		Amount:    amount,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (b *Balance) Deduct(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > b.Amount {
		return ErrInsufficient
	}
	b.Amount -= amount
	b.touch()
	return nil
}

func (b *Balance) Restore(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b.Amount += amount
	b.touch()
	return nil
}

func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func (b *Balance) touch() {
	b.UpdatedAt = time.Now().UTC()
}
