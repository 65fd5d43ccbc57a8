package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseCallback = "payment.callback"

var (
	ErrSeqRequired         = apperr.New(apperr.BadRequest, "payment: payment sequence is required")
	ErrNonTerminalCallback = apperr.New(apperr.BadRequest, "payment: callback status must be terminal")
)

type CallbackInput struct {
	PaymentSeq     string
	TransactionKey string
	Status         string
	Amount         int64
	Message        string
}

type CallbackResult struct {
	Applied bool
	Status  domain.Status
}

// CallbackUseCase applies a PG callback. Redelivery of a callback for a
// payment that is already settled is acknowledged without side effects.
type CallbackUseCase struct {
	settler *Settler
	in      *application.Instruments
}

func NewCallbackUseCase(settler *Settler, in *application.Instruments) *CallbackUseCase {
	return &CallbackUseCase{settler: settler, in: in}
}

func (uc *CallbackUseCase) Execute(ctx context.Context, cmd CallbackInput) (_ *CallbackResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseCallback, "PaymentCallback",
		attribute.String("payment.seq", cmd.PaymentSeq),
		attribute.String("payment.callback_status", cmd.Status),
	)
	defer func() { run.End(err) }()
	run.Field("payment_seq", cmd.PaymentSeq)

	if strings.TrimSpace(cmd.PaymentSeq) == "" {
		return nil, run.Fail("PAYMENT_SEQ_REQUIRED", ErrSeqRequired)
	}
	status, perr := domain.ParseStatus(cmd.Status)
	if perr != nil {
		return nil, run.Fail("UNKNOWN_STATUS", perr)
	}
	if !status.IsTerminal() {
		return nil, run.Fail("NON_TERMINAL_STATUS", fmt.Errorf("%w: %s", ErrNonTerminalCallback, status))
	}

	out, aerr := uc.settler.Apply(ctx, cmd.PaymentSeq, status, cmd.TransactionKey, cmd.Message)
	if aerr != nil {
		return nil, run.Fail("SETTLEMENT_FAILED", aerr)
	}
	if !out.Changed {
		run.Set("DUPLICATE_IGNORED")
	}
	if cmd.Amount > 0 && out.Payment != nil && cmd.Amount != out.Payment.Amount {
		run.Logger.Warn("callback_amount_mismatch",
			observability.F("expected", out.Payment.Amount),
			observability.F("reported", cmd.Amount),
		)
	}
	run.Field("before", string(out.Before))
	run.Field("after", string(out.After))
	return &CallbackResult{Applied: out.Changed, Status: out.After}, nil
}
