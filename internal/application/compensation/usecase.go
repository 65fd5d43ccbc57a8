// Package compensation undoes the resource reservations of an order whose
// payment failed or was cancelled.
package compensation

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	dompoint "github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	domstock "github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/tx"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	Service = "compensation-service"

	useCaseCompensate = "compensation.restore"
	casAttempts       = 3

	ResourceStock  = "stock"
	ResourcePoint  = "point"
	ResourceCoupon = "coupon"
)

type Dependencies struct {
	Tx      tx.Manager
	Orders  domorder.Repository
	Stocks  domstock.Repository
	Points  dompoint.Repository
	Coupons domcoupon.Repository
}

type Command struct {
	OrderID    string
	PaymentSeq string
	Result     dompayment.Result
	Reason     string
}

// Report lists what a compensation run did. Skipped means the order had
// already been moved out of ORDERED/PAID by an earlier delivery.
type Report struct {
	OrderID  string
	Skipped  bool
	Restored []string
	Failed   []string
}

// UseCase restores stock, points and the coupon for one order. The order
// status change is written first and doubles as the idempotency key: only
// the delivery that performs it goes on to restore anything. Each resource
// is restored in its own transaction and a failure in one does not stop the
// others.
type UseCase struct {
	deps     Dependencies
	in       *application.Instruments
	failures observability.Counter // compensation_failures_total{resource}
}

func NewUseCase(deps Dependencies, in *application.Instruments) *UseCase {
	return &UseCase{
		deps:     deps,
		in:       in,
		failures: in.Tel.Metrics().Counter(observability.MCompensationFailures),
	}
}

func (uc *UseCase) Execute(ctx context.Context, cmd Command) (_ *Report, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseCompensate, "Compensate",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("payment.result", string(cmd.Result)),
	)
	defer func() { run.End(err) }()
	run.Field("order_id", cmd.OrderID)
	run.Field("payment_seq", cmd.PaymentSeq)

	order, claimed, cerr := uc.claim(ctx, cmd)
	if cerr != nil {
		return nil, run.Fail("ORDER_TRANSITION_FAILED", cerr)
	}
	report := &Report{OrderID: cmd.OrderID}
	if !claimed {
		run.Set("ALREADY_COMPENSATED")
		report.Skipped = true
		return report, nil
	}

	record := func(resource string, err error) {
		if err == nil {
			report.Restored = append(report.Restored, resource)
			return
		}
		report.Failed = append(report.Failed, resource)
		uc.failures.Add(1, observability.L("resource", resource))
		run.Logger.Error("compensation_step_failed",
			observability.F("resource", resource),
			observability.F("error", err.Error()),
		)
	}

	for _, it := range order.Items {
		record(ResourceStock, uc.restoreStock(ctx, it))
	}
	if order.UsedPoints > 0 {
		record(ResourcePoint, uc.restorePoints(ctx, order.BuyerID, order.UsedPoints))
	}
	if order.HasCoupon() {
		record(ResourceCoupon, uc.restoreCoupon(ctx, order.CouponID))
	}

	if len(report.Failed) > 0 {
		run.Set("PARTIALLY_RESTORED")
	}
	run.Field("restored", len(report.Restored))
	run.Field("failed", len(report.Failed))
	return report, nil
}

// claim moves the order to FAILED or CANCELLED. It reports false when the
// order was already there.
func (uc *UseCase) claim(ctx context.Context, cmd Command) (*domorder.Order, bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		order, err := uc.deps.Orders.FindByID(ctx, cmd.OrderID)
		if err != nil {
			return nil, false, fmt.Errorf("compensation: load order: %w", err)
		}

		var changed bool
		if cmd.Result == dompayment.ResultCancelled {
			changed, err = order.MarkCancelled(cmd.Reason)
		} else {
			changed, err = order.MarkFailed(cmd.Reason)
		}
		if err != nil {
			return nil, false, fmt.Errorf("compensation: %w", err)
		}
		if !changed {
			return order, false, nil
		}

		err = uc.deps.Orders.Update(ctx, order)
		if errors.Is(err, domorder.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("compensation: update order: %w", err)
		}
		return order, true, nil
	}
	return nil, false, fmt.Errorf("compensation: update order: %w", domorder.ErrConflict)
}

func (uc *UseCase) restoreStock(ctx context.Context, it domorder.Item) error {
	return uc.deps.Tx.Do(ctx, func(ctx context.Context) error {
		s, err := uc.deps.Stocks.FindForUpdate(ctx, it.ProductID)
		if err != nil {
			return fmt.Errorf("lock stock %s: %w", it.ProductID, err)
		}
		if err := s.Increase(it.Quantity); err != nil {
			return err
		}
		return uc.deps.Stocks.Save(ctx, s)
	})
}

func (uc *UseCase) restorePoints(ctx context.Context, buyerID string, amount int64) error {
	return uc.deps.Tx.Do(ctx, func(ctx context.Context) error {
		b, err := uc.deps.Points.FindForUpdate(ctx, buyerID)
		if err != nil {
			return fmt.Errorf("lock points %s: %w", buyerID, err)
		}
		if err := b.Restore(amount); err != nil {
			return err
		}
		return uc.deps.Points.Save(ctx, b)
	})
}

func (uc *UseCase) restoreCoupon(ctx context.Context, couponID string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		c, err := uc.deps.Coupons.FindByID(ctx, couponID)
		if err != nil {
			return fmt.Errorf("load coupon %s: %w", couponID, err)
		}
		if !c.Restore() {
			return nil
		}
		err = uc.deps.Coupons.Update(ctx, c)
		if errors.Is(err, domcoupon.ErrVersionConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("restore coupon %s: %w", couponID, domcoupon.ErrVersionConflict)
}
