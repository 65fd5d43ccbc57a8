package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrNotFound               = apperr.New(apperr.NotFound, "payment: not found")
	ErrInvalidStatus          = apperr.New(apperr.BadRequest, "payment: unknown status")
	ErrInvalidMethod          = apperr.New(apperr.BadRequest, "payment: unknown method")
	ErrInvalidAmount          = apperr.New(apperr.BadRequest, "payment: amount must be zero or greater")
	ErrInvalidStateTransition = apperr.New(apperr.BadRequest, "payment: invalid state transition")
	ErrConflict               = apperr.New(apperr.Conflict, "payment: concurrent modification")
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusProcessing      Status = "PROCESSING"
	StatusTimeoutPending  Status = "TIMEOUT_PENDING"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCanceled        Status = "CANCELED"
	StatusPartialCanceled Status = "PARTIAL_CANCELED"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusProcessing, StatusTimeoutPending, StatusCompleted, StatusFailed, StatusCanceled},
	StatusProcessing:     {StatusCompleted, StatusFailed, StatusCanceled, StatusTimeoutPending, StatusPartialCanceled},
	StatusTimeoutPending: {StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled, StatusPartialCanceled},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusProcessing, StatusTimeoutPending,
		StatusCompleted, StatusFailed, StatusCanceled, StatusPartialCanceled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

type Method string

const (
	MethodCard           Method = "CARD"
	MethodBankTransfer   Method = "BANK_TRANSFER"
	MethodVirtualAccount Method = "VIRTUAL_ACCOUNT"
	MethodKakaoPay       Method = "KAKAO_PAY"
	MethodNaverPay       Method = "NAVER_PAY"
	MethodPayco          Method = "PAYCO"
	MethodPointOnly      Method = "POINT_ONLY"
)

func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodCard, MethodBankTransfer, MethodVirtualAccount,
		MethodKakaoPay, MethodNaverPay, MethodPayco, MethodPointOnly:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// RequiresGateway is false for methods settled entirely on our side.
func (m Method) RequiresGateway() bool { return m != MethodPointOnly }

type Payment struct {
	ID             string
	OrderID        string
	Seq            string
	Status         Status
	Method         Method
	Amount         int64
	Provider       string
	TransactionKey string
	Reason         string
	PaidAt         *time.Time
	FailedAt       *time.Time
	CanceledAt     *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func New(id, orderID, seq string, method Method, amount int64, provider string) (*Payment, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		Seq:       seq,
		Status:    StatusPending,
		Method:    method,
		Amount:    amount,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition moves the payment to next. Re-applying the current status is a
// no-op and reports false; any move the table does not allow fails with
// ErrInvalidStateTransition.
func (p *Payment) Transition(next Status, transactionKey, reason string) (bool, error) {
	if p.Status == next {
		return false, nil
	}
	if !p.Status.CanTransitionTo(next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, p.Status, next)
	}

	now := time.Now().UTC()
	p.Status = next
	if transactionKey != "" {
		p.TransactionKey = transactionKey
	}
	if reason != "" {
		p.Reason = reason
	}
	switch next {
	case StatusCompleted:
		p.PaidAt = &now
	case StatusFailed:
		p.FailedAt = &now
	case StatusCanceled, StatusPartialCanceled:
		p.CanceledAt = &now
	}
	p.UpdatedAt = now
	return true, nil
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	clone.PaidAt = cloneTime(p.PaidAt)
	clone.FailedAt = cloneTime(p.FailedAt)
	clone.CanceledAt = cloneTime(p.CanceledAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
