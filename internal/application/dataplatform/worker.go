// Package dataplatform forwards saga events to the analytics platform.
// Delivery is at-most-once from the saga's point of view: send failures are
// logged and dropped.
package dataplatform

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	Service = "dataplatform-forwarder"
	peer    = "dataplatform"
)

// Envelope is the unit handed to a Sender. Key groups records of one order.
type Envelope struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

type Worker struct {
	subscriber domoutbox.Subscriber
	sender     Sender
	in         *application.Instruments
}

func NewWorker(subscriber domoutbox.Subscriber, sender Sender, in *application.Instruments) *Worker {
	return &Worker{subscriber: subscriber, sender: sender, in: in}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.sender == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderCompletedEvent{}.EventName(), w.forward)
	w.subscriber.Subscribe(domcoupon.UsageEvent{}.EventName(), w.forward)
	w.subscriber.Subscribe(dompayment.ResultEvent{}.EventName(), w.forward)
}

func (w *Worker) forward(ctx context.Context, e domoutbox.Event) error {
	env, ok := envelopeFor(e)
	if !ok {
		return nil
	}

	start := time.Now()
	outcome := "success"
	if err := w.sender.Send(ctx, env); err != nil {
		outcome = "error"
		logctx.FromOr(ctx, w.in.Log).Warn("dataplatform_send_failed",
			observability.F("event", env.Type),
			observability.F("key", env.Key),
			observability.F("error", err.Error()),
		)
	}
	w.in.External(peer, env.Type, outcome, time.Since(start))
	return nil
}

func envelopeFor(e domoutbox.Event) (Envelope, bool) {
	switch evt := e.(type) {
	case domorder.OrderCompletedEvent:
		return Envelope{Type: evt.EventName(), Key: evt.OrderID, OccurredAt: evt.OccurredAt, Payload: evt}, true
	case domcoupon.UsageEvent:
		return Envelope{Type: evt.EventName(), Key: evt.OrderID, OccurredAt: evt.OccurredAt, Payload: evt}, true
	case dompayment.ResultEvent:
		return Envelope{Type: evt.EventName(), Key: evt.OrderID, OccurredAt: evt.OccurredAt, Payload: evt}, true
	}
	return Envelope{}, false
}

// LogSender writes envelopes to the log. It stands in for Kafka when no
// brokers are configured.
type LogSender struct{ Log observability.Logger }

func (s LogSender) Send(ctx context.Context, env Envelope) error {
	logctx.FromOr(ctx, s.Log).Info("dataplatform_event",
		observability.F("event", env.Type),
		observability.F("key", env.Key),
	)
	return nil
}
