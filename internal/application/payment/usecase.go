package payment

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"

	"go.opentelemetry.io/otel/attribute"
)

const (
	PaymentService = "payment-service"

	useCaseStart = "payment.start"
)

// StartPaymentUseCase submits a freshly committed payment to the gateway and
// records where that left it. Submission is attempted exactly once.
type StartPaymentUseCase struct {
	gateway     domain.Gateway
	settler     *Settler
	callbackURL string
	in          *application.Instruments
}

func NewStartPaymentUseCase(gateway domain.Gateway, settler *Settler, callbackURL string, in *application.Instruments) *StartPaymentUseCase {
	return &StartPaymentUseCase{gateway: gateway, settler: settler, callbackURL: callbackURL, in: in}
}

var _ apporder.PaymentStarter = (*StartPaymentUseCase)(nil)

func (uc *StartPaymentUseCase) Start(ctx context.Context, cmd apporder.StartPaymentInput) (_ domain.Status, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseStart, "StartPayment",
		attribute.String("payment.seq", cmd.PaymentSeq),
		attribute.String("payment.method", string(cmd.Method)),
	)
	defer func() { run.End(err) }()
	run.Field("payment_seq", cmd.PaymentSeq)

	if !cmd.Method.RequiresGateway() || cmd.Amount == 0 {
		out, err := uc.settler.Apply(ctx, cmd.PaymentSeq, domain.StatusCompleted, "", "settled without gateway")
		if err != nil {
			return "", run.Fail("LOCAL_SETTLEMENT_FAILED", err)
		}
		run.Set("SETTLED_LOCALLY")
		return out.After, nil
	}

	res := uc.gateway.Submit(ctx, domain.SubmitRequest{
		PaymentSeq:  cmd.PaymentSeq,
		CardType:    cmd.CardType,
		CardNo:      cmd.CardNo,
		Amount:      cmd.Amount,
		CallbackURL: uc.callbackURL,
	})

	var (
		next   domain.Status
		txKey  string
		reason string
	)
	switch {
	case res.OK():
		next, txKey = domain.StatusProcessing, res.TransactionKey
	case res.Failure == domain.FailureBadRequest:
		next, reason = domain.StatusFailed, "gateway rejected: "+res.Message
		run.Set("GATEWAY_REJECTED")
	default:
		next, reason = domain.StatusTimeoutPending, string(res.Failure)
		run.Set("GATEWAY_" + string(res.Failure))
	}

	out, err := uc.settler.Apply(ctx, cmd.PaymentSeq, next, txKey, reason)
	if err != nil {
		return "", run.Fail("SETTLEMENT_FAILED", fmt.Errorf("payment: record submission: %w", err))
	}
	run.Field("payment_status", string(out.After))
	return out.After, nil
}
