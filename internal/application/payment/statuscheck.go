package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseStatusCheck = "payment.status_check"

type StatusCheckResult struct {
	Before  domain.Status
	After   domain.Status
	Summary string
}

// StatusCheckUseCase pulls the PG's view of a payment on demand and applies
// it through the settler. Gateway trouble is reported in the summary rather
// than returned as an error.
type StatusCheckUseCase struct {
	payments domain.Repository
	gateway  domain.Gateway
	settler  *Settler
	in       *application.Instruments
}

func NewStatusCheckUseCase(payments domain.Repository, gateway domain.Gateway, settler *Settler, in *application.Instruments) *StatusCheckUseCase {
	return &StatusCheckUseCase{payments: payments, gateway: gateway, settler: settler, in: in}
}

func (uc *StatusCheckUseCase) Execute(ctx context.Context, seq string) (_ *StatusCheckResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseStatusCheck, "PaymentStatusCheck",
		attribute.String("payment.seq", seq),
	)
	defer func() { run.End(err) }()
	run.Field("payment_seq", seq)

	if seq == "" {
		return nil, run.Fail("PAYMENT_SEQ_REQUIRED", ErrSeqRequired)
	}
	p, lerr := uc.payments.FindBySeq(ctx, seq)
	if lerr != nil {
		return nil, run.Fail("PAYMENT_NOT_FOUND", fmt.Errorf("payment: load %s: %w", seq, lerr))
	}
	if p.Status.IsTerminal() {
		run.Set("ALREADY_SETTLED")
		return &StatusCheckResult{
			Before:  p.Status,
			After:   p.Status,
			Summary: fmt.Sprintf("payment already settled: %s", p.Status),
		}, nil
	}

	res := uc.gateway.Status(ctx, seq)
	if !res.OK() {
		run.Set("GATEWAY_" + string(res.Failure))
		return &StatusCheckResult{
			Before:  p.Status,
			After:   p.Status,
			Summary: fmt.Sprintf("gateway status check failed (%s): %s", res.Failure, res.Message),
		}, nil
	}

	out, aerr := uc.settler.Apply(ctx, seq, res.Status, res.TransactionKey, res.Message)
	if errors.Is(aerr, domain.ErrInvalidStateTransition) {
		run.Set("NO_APPLICABLE_TRANSITION")
		return &StatusCheckResult{
			Before:  p.Status,
			After:   p.Status,
			Summary: fmt.Sprintf("status check complete: %s -> %s (gateway reports %s)", p.Status, p.Status, res.Status),
		}, nil
	}
	if aerr != nil {
		return nil, run.Fail("SETTLEMENT_FAILED", aerr)
	}
	return &StatusCheckResult{
		Before:  out.Before,
		After:   out.After,
		Summary: fmt.Sprintf("status check complete: %s -> %s", out.Before, out.After),
	}, nil
}
