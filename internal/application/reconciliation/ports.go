package reconciliation

import (
	"context"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// Locker grants a single process the right to run a reconciliation pass.
// ok is false when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// ResultBacklog lists terminal payments, settled before the cutoff, whose
// order has not reacted to the result yet (see AwaitsResult). Oldest first.
type ResultBacklog interface {
	FindAwaitingResult(ctx context.Context, settledBefore time.Time, limit int) ([]*dompayment.Payment, error)
}

// AwaitsResult reports whether an order in orderStatus still has to react to
// a payment in paymentStatus. An ORDERED order reacts to every terminal
// result; a PAID order only to a cancellation.
func AwaitsResult(paymentStatus dompayment.Status, orderStatus domorder.Status) bool {
	result, ok := dompayment.ResultFor(paymentStatus)
	if !ok {
		return false
	}
	switch orderStatus {
	case domorder.StatusOrdered:
		return true
	case domorder.StatusPaid:
		return result == dompayment.ResultCancelled
	}
	return false
}
