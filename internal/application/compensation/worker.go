package compensation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// Worker triggers compensation for FAILED and CANCELLED payment results.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    *UseCase
}

func NewWorker(subscriber domoutbox.Subscriber, useCase *UseCase) *Worker {
	return &Worker{subscriber: subscriber, useCase: useCase}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	w.subscriber.Subscribe(dompayment.ResultEvent{}.EventName(), w.handlePaymentResult)
}

func (w *Worker) handlePaymentResult(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompayment.ResultEvent)
	if !ok || evt.Result == dompayment.ResultCompleted {
		return nil
	}
	_, err := w.useCase.Execute(ctx, Command{
		OrderID:    evt.OrderID,
		PaymentSeq: evt.PaymentSeq,
		Result:     evt.Result,
		Reason:     evt.Message,
	})
	return err
}
