package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const casAttempts = 3

// Outcome describes what one settlement attempt did to a payment.
type Outcome struct {
	Before  domain.Status
	After   domain.Status
	Changed bool
	Payment *domain.Payment
}

// Settler is the single path through which callbacks, status checks and
// reconciliation move a payment. A payment that is already terminal is left
// alone, so a duplicate delivery neither writes nor publishes.
type Settler struct {
	payments domain.Repository
	events   domoutbox.Publisher
	in       *application.Instruments
}

func NewSettler(payments domain.Repository, events domoutbox.Publisher, in *application.Instruments) *Settler {
	return &Settler{payments: payments, events: events, in: in}
}

// Apply moves the payment identified by seq to next. Losing a version race
// reloads the payment and decides again against the winner's state.
func (s *Settler) Apply(ctx context.Context, seq string, next domain.Status, transactionKey, reason string) (Outcome, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		p, err := s.payments.FindBySeq(ctx, seq)
		if err != nil {
			return Outcome{}, fmt.Errorf("payment: load %s: %w", seq, err)
		}
		out := Outcome{Before: p.Status, After: p.Status, Payment: p}
		if p.Status.IsTerminal() {
			return out, nil
		}

		changed, err := p.Transition(next, transactionKey, reason)
		if err != nil {
			return out, err
		}
		if !changed {
			return out, nil
		}

		err = s.payments.Update(ctx, p)
		if errors.Is(err, domain.ErrConflict) {
			logctx.FromOr(ctx, s.in.Log).Debug("payment_cas_retry",
				observability.F("payment_seq", seq),
				observability.F("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("payment: update %s: %w", seq, err)
		}

		out.After, out.Changed = p.Status, true
		if result, ok := domain.ResultFor(p.Status); ok {
			_ = s.in.Publish(ctx, s.events, domain.NewResultEvent(p, result))
		}
		return out, nil
	}
	return Outcome{}, fmt.Errorf("payment: settle %s: %w", seq, domain.ErrConflict)
}

// Republish emits the result event of an already terminal payment again.
// Consumers key on the order status, so a repeat is absorbed.
func (s *Settler) Republish(ctx context.Context, p *domain.Payment) error {
	result, ok := domain.ResultFor(p.Status)
	if !ok {
		return fmt.Errorf("payment: republish %s in %s: %w", p.Seq, p.Status, domain.ErrInvalidStateTransition)
	}
	return s.in.Publish(ctx, s.events, domain.NewResultEvent(p, result))
}
