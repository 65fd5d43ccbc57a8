package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	WorkerService = "order-worker"

	useCasePaymentCompleted = "order.worker.payment_completed"
	updateAttempts          = 3
)

// Worker moves orders to PAID when their payment completes. Failed and
// cancelled payments belong to the compensation worker.
type Worker struct {
	repo       domorder.Repository
	subscriber domoutbox.Subscriber
	in         *application.Instruments
}

func NewWorker(repo domorder.Repository, subscriber domoutbox.Subscriber, in *application.Instruments) *Worker {
	return &Worker{repo: repo, subscriber: subscriber, in: in}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.repo == nil {
		return
	}
	w.subscriber.Subscribe(dompayment.ResultEvent{}.EventName(), w.handlePaymentResult)
}

func (w *Worker) handlePaymentResult(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(dompayment.ResultEvent)
	if !ok || evt.Result != dompayment.ResultCompleted {
		return nil
	}

	ctx, run := w.in.Begin(ctx, useCasePaymentCompleted, "PaymentCompleted",
		attribute.String("event", e.EventName()),
		attribute.String("order.id", evt.OrderID),
	)
	defer func() { run.End(err) }()
	run.Field("order_id", evt.OrderID)
	run.Field("payment_seq", evt.PaymentSeq)

	for attempt := 0; attempt < updateAttempts; attempt++ {
		order, lerr := w.repo.FindByID(ctx, evt.OrderID)
		if lerr != nil {
			return run.Fail("ORDER_LOAD_FAILED", fmt.Errorf("worker: load order: %w", lerr))
		}

		changed, terr := order.MarkPaid()
		if terr != nil {
			run.Logger.Warn("order_not_payable",
				observability.F("order_status", string(order.Status)),
			)
			return run.Fail("STATE_TRANSITION_FAILED", fmt.Errorf("worker: mark paid: %w", terr))
		}
		if !changed {
			run.Set("ALREADY_PAID")
			return nil
		}

		uerr := w.repo.Update(ctx, order)
		if errors.Is(uerr, domorder.ErrConflict) {
			continue
		}
		if uerr != nil {
			return run.Fail("ORDER_UPDATE_FAILED", fmt.Errorf("worker: update order: %w", uerr))
		}
		return nil
	}
	return run.Fail("ORDER_UPDATE_CONFLICT", domorder.ErrConflict)
}
