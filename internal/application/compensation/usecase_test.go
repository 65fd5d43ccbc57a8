package compensation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/apptest"
	"github.com/Zhima-Mochi/minishop-saga/internal/application/compensation"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// setup mirrors the state right after an order for 2 x p1 using 1000 points
// and coupon c1 committed: stock 8, balance 19000, coupon used.
func setup(t *testing.T) (*compensation.UseCase, *apptest.Store) {
	t.Helper()
	store := apptest.NewStore()
	store.Product(t, "p1", 5000, 8)
	store.Buyer(t, "u1", 19000)
	store.Coupon(t, "c1", "u1", domcoupon.KindFlat, 500)

	c, err := store.Coupons.FindByID(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, c.Use(time.Now()))
	require.NoError(t, store.Coupons.Update(context.Background(), c))

	o, err := domorder.New("o1", "u1", []domorder.Item{{ProductID: "p1", ProductName: "p1", Quantity: 2, UnitPrice: 5000}}, "CARD")
	require.NoError(t, err)
	o.ApplyCoupon("c1", 500)
	require.NoError(t, o.ApplyPoints(1000))
	require.NoError(t, store.Orders.Insert(context.Background(), o))

	uc := compensation.NewUseCase(compensation.Dependencies{
		Tx:      store.Tx,
		Orders:  store.Orders,
		Stocks:  store.Stocks,
		Points:  store.Points,
		Coupons: store.Coupons,
	}, apptest.Instruments(compensation.Service))
	return uc, store
}

func failed() compensation.Command {
	return compensation.Command{OrderID: "o1", PaymentSeq: "S1", Result: dompayment.ResultFailed, Reason: "declined"}
}

func TestRestoresEveryResourceOnce(t *testing.T) {
	uc, store := setup(t)

	report, err := uc.Execute(context.Background(), failed())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.ElementsMatch(t, []string{compensation.ResourceStock, compensation.ResourcePoint, compensation.ResourceCoupon}, report.Restored)
	assert.Empty(t, report.Failed)

	assert.Equal(t, 10, store.StockOf(t, "p1"))
	assert.EqualValues(t, 20000, store.PointsOf(t, "u1"))
	assert.False(t, store.CouponUsed(t, "c1"))

	o, err := store.Orders.FindByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusFailed, o.Status)
	assert.Equal(t, "declined", o.FailureReason)

	report, err = uc.Execute(context.Background(), failed())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 10, store.StockOf(t, "p1"))
	assert.EqualValues(t, 20000, store.PointsOf(t, "u1"))
}

func TestCancelledResultCancelsOrder(t *testing.T) {
	uc, store := setup(t)
	cmd := failed()
	cmd.Result = dompayment.ResultCancelled

	_, err := uc.Execute(context.Background(), cmd)
	require.NoError(t, err)

	o, err := store.Orders.FindByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, o.Status)
	assert.Equal(t, 10, store.StockOf(t, "p1"))
}

func TestFailedStepDoesNotStopTheOthers(t *testing.T) {
	uc, store := setup(t)
	o, err := domorder.New("o2", "u1", []domorder.Item{
		{ProductID: "gone", Quantity: 1, UnitPrice: 100},
		{ProductID: "p1", Quantity: 1, UnitPrice: 5000},
	}, "CARD")
	require.NoError(t, err)
	require.NoError(t, o.ApplyPoints(100))
	require.NoError(t, store.Orders.Insert(context.Background(), o))

	cmd := failed()
	cmd.OrderID = "o2"
	report, err := uc.Execute(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, []string{compensation.ResourceStock}, report.Failed)
	assert.Equal(t, []string{compensation.ResourceStock, compensation.ResourcePoint}, report.Restored)
	assert.Equal(t, 9, store.StockOf(t, "p1"))
	assert.EqualValues(t, 19100, store.PointsOf(t, "u1"))
}

func TestConcurrentDeliveriesRestoreOnce(t *testing.T) {
	uc, store := setup(t)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := uc.Execute(context.Background(), failed())
			if assert.NoError(t, err) && !report.Skipped {
				ran.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ran.Load())
	assert.Equal(t, 10, store.StockOf(t, "p1"))
	assert.EqualValues(t, 20000, store.PointsOf(t, "u1"))
}

func TestPaidOrderCanBeCancelled(t *testing.T) {
	uc, store := setup(t)
	o, err := store.Orders.FindByID(context.Background(), "o1")
	require.NoError(t, err)
	_, err = o.MarkPaid()
	require.NoError(t, err)
	require.NoError(t, store.Orders.Update(context.Background(), o))

	cmd := failed()
	cmd.Result = dompayment.ResultCancelled
	report, err := uc.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 10, store.StockOf(t, "p1"))
}

func TestWorkerIgnoresCompletedResults(t *testing.T) {
	uc, store := setup(t)
	bus := apptest.NewSyncBus()
	compensation.NewWorker(bus, uc).Start()

	require.NoError(t, bus.Publish(context.Background(), dompayment.ResultEvent{OrderID: "o1", Result: dompayment.ResultCompleted}))
	assert.Equal(t, 8, store.StockOf(t, "p1"))

	require.NoError(t, bus.Publish(context.Background(), dompayment.ResultEvent{OrderID: "o1", Result: dompayment.ResultFailed}))
	assert.Equal(t, 10, store.StockOf(t, "p1"))
}
