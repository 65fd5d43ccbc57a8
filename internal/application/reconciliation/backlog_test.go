package reconciliation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/apptest"
	"github.com/Zhima-Mochi/minishop-saga/internal/application/compensation"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/application/reconciliation"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
)

// lossyBus fails result publishes while drop is set, as a broker outage would.
type lossyBus struct {
	*apptest.SyncBus
	drop atomic.Bool
}

func (b *lossyBus) Publish(ctx context.Context, e domoutbox.Event) error {
	if b.drop.Load() && e.EventName() == (domain.ResultEvent{}).EventName() {
		return errors.New("broker unavailable")
	}
	return b.SyncBus.Publish(ctx, e)
}

type saga struct {
	store     *apptest.Store
	bus       *lossyBus
	place     *apporder.PlaceOrderUseCase
	callback  *apppayment.CallbackUseCase
	scheduler *reconciliation.Scheduler
}

func newSaga(t *testing.T) *saga {
	t.Helper()
	store := apptest.NewStore()
	bus := &lossyBus{SyncBus: apptest.NewSyncBus()}
	gw := &apptest.Gateway{SubmitResult: domain.SubmitResult{TransactionKey: "tx-1"}}

	payIn := apptest.Instruments(apppayment.PaymentService)
	settler := apppayment.NewSettler(store.Payments, bus, payIn)
	starter := apppayment.NewStartPaymentUseCase(gw, settler, "http://saga/api/v1/payments/callback", payIn)

	comp := compensation.NewUseCase(compensation.Dependencies{
		Tx:      store.Tx,
		Orders:  store.Orders,
		Stocks:  store.Stocks,
		Points:  store.Points,
		Coupons: store.Coupons,
	}, apptest.Instruments(compensation.Service))
	compensation.NewWorker(bus, comp).Start()
	apporder.NewWorker(store.Orders, bus, apptest.Instruments(apporder.WorkerService)).Start()

	place := apporder.NewPlaceOrderUseCase(apporder.Dependencies{
		Tx:       store.Tx,
		Orders:   store.Orders,
		Stocks:   store.Stocks,
		Points:   store.Points,
		Coupons:  store.Coupons,
		Payments: store.Payments,
		Catalog:  store.Catalog,
		Buyers:   store.Buyers,
		IDs:      store.IDs,
		Payer:    starter,
		Events:   bus,
	}, apptest.Instruments(apporder.OrderService))

	in := apptest.Instruments(reconciliation.Service)
	sched := reconciliation.NewScheduler(store.Payments, gw, settler, nil,
		memory.NewResultBacklog(store.Orders, store.Payments),
		reconciliation.Config{Attempts: 1, ResultGrace: time.Millisecond}, in)

	store.Product(t, "p1", 5000, 10)
	store.Buyer(t, "u1", 20000)
	return &saga{store: store, bus: bus, place: place, callback: apppayment.NewCallbackUseCase(settler, payIn), scheduler: sched}
}

func (s *saga) order(t *testing.T, qty int) *apporder.PlaceOrderResult {
	t.Helper()
	res, err := s.place.Execute(context.Background(), apporder.PlaceOrderInput{
		BuyerID:       "u1",
		Items:         []apporder.ItemInput{{ProductID: "p1", Quantity: qty}},
		PaymentMethod: "CARD",
		CardType:      "SAMSUNG",
		CardNo:        "1234-5678-9814-1451",
	})
	require.NoError(t, err)
	return res
}

func (s *saga) orderStatus(t *testing.T, id string) domorder.Status {
	t.Helper()
	o, err := s.store.Orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestSweepCompensatesWhenResultEventWasLost(t *testing.T) {
	s := newSaga(t)
	res := s.order(t, 2)
	require.Equal(t, 8, s.store.StockOf(t, "p1"))

	s.bus.drop.Store(true)
	out, err := s.callback.Execute(context.Background(), apppayment.CallbackInput{PaymentSeq: res.PaymentSeq, Status: "FAILED", Message: "limit exceeded"})
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, domorder.StatusOrdered, s.orderStatus(t, res.OrderID))
	assert.Equal(t, 8, s.store.StockOf(t, "p1"), "nothing reacted to the lost event")
	s.bus.drop.Store(false)

	time.Sleep(5 * time.Millisecond)
	sum, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Republished)
	assert.Zero(t, sum.Scanned)
	assert.Equal(t, 10, s.store.StockOf(t, "p1"))
	assert.Equal(t, domorder.StatusFailed, s.orderStatus(t, res.OrderID))

	// The order has reacted, so the next pass leaves it alone.
	sum, err = s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Republished)
	assert.Len(t, s.bus.Results(), 1)
}

func TestSweepFailureKeepsPaymentInBacklog(t *testing.T) {
	s := newSaga(t)
	res := s.order(t, 1)

	s.bus.drop.Store(true)
	_, err := s.callback.Execute(context.Background(), apppayment.CallbackInput{PaymentSeq: res.PaymentSeq, Status: "CANCELED"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	sum, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Republished)
	assert.Equal(t, 1, sum.Errors)

	s.bus.drop.Store(false)
	sum, err = s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Republished)
	assert.Equal(t, domorder.StatusCancelled, s.orderStatus(t, res.OrderID))
	assert.Equal(t, 10, s.store.StockOf(t, "p1"))
}

func TestSweepSkipsOrdersThatReacted(t *testing.T) {
	s := newSaga(t)
	res := s.order(t, 1)
	_, err := s.callback.Execute(context.Background(), apppayment.CallbackInput{PaymentSeq: res.PaymentSeq, Status: "COMPLETED"})
	require.NoError(t, err)
	require.Equal(t, domorder.StatusPaid, s.orderStatus(t, res.OrderID))

	time.Sleep(5 * time.Millisecond)
	sum, err := s.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Republished)
	assert.Len(t, s.bus.Results(), 1)
}

func TestAwaitsResult(t *testing.T) {
	cases := []struct {
		payment domain.Status
		order   domorder.Status
		want    bool
	}{
		{domain.StatusFailed, domorder.StatusOrdered, true},
		{domain.StatusCompleted, domorder.StatusOrdered, true},
		{domain.StatusCanceled, domorder.StatusOrdered, true},
		{domain.StatusCanceled, domorder.StatusPaid, true},
		{domain.StatusPartialCanceled, domorder.StatusPaid, true},
		{domain.StatusCompleted, domorder.StatusPaid, false},
		{domain.StatusFailed, domorder.StatusPaid, false},
		{domain.StatusFailed, domorder.StatusFailed, false},
		{domain.StatusCanceled, domorder.StatusCancelled, false},
		{domain.StatusProcessing, domorder.StatusOrdered, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.payment)+"/"+string(tc.order), func(t *testing.T) {
			assert.Equal(t, tc.want, reconciliation.AwaitsResult(tc.payment, tc.order))
		})
	}
}
