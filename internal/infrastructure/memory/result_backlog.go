package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/reconciliation"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// ResultBacklog joins the payment and order maps the way the SQL backlog
// query joins the two tables.
type ResultBacklog struct {
	orders   *OrderRepository
	payments *PaymentRepository
}

var _ reconciliation.ResultBacklog = (*ResultBacklog)(nil)

func NewResultBacklog(orders *OrderRepository, payments *PaymentRepository) *ResultBacklog {
	return &ResultBacklog{orders: orders, payments: payments}
}

func (b *ResultBacklog) FindAwaitingResult(ctx context.Context, settledBefore time.Time, limit int) ([]*dompayment.Payment, error) {
	b.payments.mu.RLock()
	var settled []*dompayment.Payment
	for _, p := range b.payments.bySeq {
		if p.Status.IsTerminal() && p.UpdatedAt.Before(settledBefore) {
			settled = append(settled, p.Clone())
		}
	}
	b.payments.mu.RUnlock()

	var out []*dompayment.Payment
	for _, p := range settled {
		o, err := b.orders.FindByID(ctx, p.OrderID)
		if errors.Is(err, domorder.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if reconciliation.AwaitsResult(p.Status, o.Status) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
