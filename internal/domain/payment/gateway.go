package payment

import (
	"context"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

// FailureCategory classifies why a gateway call did not succeed.
type FailureCategory string

const (
	FailureBadRequest         FailureCategory = "BAD_REQUEST"
	FailureServerError        FailureCategory = "SERVER_ERROR"
	FailureServiceUnavailable FailureCategory = "SERVICE_UNAVAILABLE"
	FailureNetworkError       FailureCategory = "NETWORK_ERROR"
	FailureCircuitOpen        FailureCategory = "CIRCUIT_OPEN"
)

var (
	ErrGatewayRejected    = apperr.New(apperr.BadRequest, "payment gateway: request rejected")
	ErrGatewayUnavailable = apperr.New(apperr.ExternalUnavailable, "payment gateway: unavailable")
	ErrCircuitOpen        = apperr.New(apperr.ExternalUnavailable, "payment gateway: circuit open")
)

// Retryable marks categories where asking again later may succeed.
func (c FailureCategory) Retryable() bool { return c != FailureBadRequest }

// Err maps the category onto the error taxonomy.
func (c FailureCategory) Err() error {
	switch c {
	case FailureBadRequest:
		return ErrGatewayRejected
	case FailureCircuitOpen:
		return ErrCircuitOpen
	case "":
		return nil
	default:
		return ErrGatewayUnavailable
	}
}

type SubmitRequest struct {
	PaymentSeq  string
	CardType    string
	CardNo      string
	Amount      int64
	CallbackURL string
}

// SubmitResult is Success(TransactionKey) when Failure is empty.
type SubmitResult struct {
	TransactionKey string
	Failure        FailureCategory
	Message        string
}

func (r SubmitResult) OK() bool { return r.Failure == "" }

type StatusResult struct {
	Status         Status
	TransactionKey string
	Message        string
	Failure        FailureCategory
}

func (r StatusResult) OK() bool { return r.Failure == "" }

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerHalfOpen BreakerState = "half-open"
	BreakerOpen     BreakerState = "open"
)

// Gateway is the outbound payment gateway. Implementations never return Go
// errors for transport failures; those come back as a FailureCategory.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) SubmitResult
	Status(ctx context.Context, paymentSeq string) StatusResult
	BreakerState() BreakerState
}
