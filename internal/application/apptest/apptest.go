// Package apptest wires the application layer onto the in-memory store with
// a synchronous event bus and a scripted gateway.
package apptest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	dompoint "github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	domstock "github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
)

// SyncBus delivers every event to its handlers before Publish returns and
// keeps a log of what was published.
type SyncBus struct {
	mu       sync.Mutex
	handlers map[string][]domoutbox.Handler
	events   []domoutbox.Event
	errs     []error
}

func NewSyncBus() *SyncBus {
	return &SyncBus{handlers: make(map[string][]domoutbox.Handler)}
}

func (b *SyncBus) Subscribe(name string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *SyncBus) Publish(ctx context.Context, e domoutbox.Event) error {
	b.mu.Lock()
	b.events = append(b.events, e)
	hs := append([]domoutbox.Handler(nil), b.handlers[e.EventName()]...)
	b.mu.Unlock()

	for _, h := range hs {
		if err := h(context.WithoutCancel(ctx), e); err != nil {
			b.mu.Lock()
			b.errs = append(b.errs, err)
			b.mu.Unlock()
		}
	}
	return nil
}

// HandlerErrors returns every error a handler has returned so far.
func (b *SyncBus) HandlerErrors() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]error(nil), b.errs...)
}

// Events returns the published events named name, in publish order.
func (b *SyncBus) Events(name string) []domoutbox.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domoutbox.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

// Results is Events narrowed to payment results.
func (b *SyncBus) Results() []dompayment.ResultEvent {
	var out []dompayment.ResultEvent
	for _, e := range b.Events(dompayment.ResultEvent{}.EventName()) {
		out = append(out, e.(dompayment.ResultEvent))
	}
	return out
}

// Gateway answers Submit with SubmitResult and Status from StatusResults,
// repeating the last entry once the script runs out.
type Gateway struct {
	mu            sync.Mutex
	SubmitResult  dompayment.SubmitResult
	StatusResults []dompayment.StatusResult
	Breaker       dompayment.BreakerState

	Submits     []dompayment.SubmitRequest
	StatusCalls int
}

var _ dompayment.Gateway = (*Gateway)(nil)

func (g *Gateway) Submit(_ context.Context, req dompayment.SubmitRequest) dompayment.SubmitResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submits = append(g.Submits, req)
	return g.SubmitResult
}

func (g *Gateway) Status(_ context.Context, _ string) dompayment.StatusResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.StatusCalls++
	if len(g.StatusResults) == 0 {
		return dompayment.StatusResult{Failure: dompayment.FailureNetworkError, Message: "unscripted"}
	}
	i := g.StatusCalls - 1
	if i >= len(g.StatusResults) {
		i = len(g.StatusResults) - 1
	}
	return g.StatusResults[i]
}

func (g *Gateway) BreakerState() dompayment.BreakerState {
	if g.Breaker == "" {
		return dompayment.BreakerClosed
	}
	return g.Breaker
}

func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.StatusCalls
}

// Store is the in-memory persistence used by the application tests.
type Store struct {
	Tx       *memory.TxManager
	Orders   *memory.OrderRepository
	Payments *memory.PaymentRepository
	Stocks   *memory.StockRepository
	Points   *memory.PointRepository
	Coupons  *memory.CouponRepository
	Catalog  *memory.Catalog
	Buyers   *memory.Buyers
	IDs      *id.Generator
}

func NewStore() *Store {
	return &Store{
		Tx:       memory.NewTxManager(),
		Orders:   memory.NewOrderRepository(),
		Payments: memory.NewPaymentRepository(),
		Stocks:   memory.NewStockRepository(),
		Points:   memory.NewPointRepository(0),
		Coupons:  memory.NewCouponRepository(),
		Catalog:  memory.NewCatalog(),
		Buyers:   memory.NewBuyers(),
		IDs:      id.NewGenerator(),
	}
}

// Product seeds a catalog entry with its stock row.
func (s *Store) Product(t testing.TB, productID string, price int64, qty int) {
	t.Helper()
	s.Catalog.Put(apporder.Product{ID: productID, Name: productID, Price: price})
	row, err := domstock.New(productID, qty)
	require.NoError(t, err)
	s.Stocks.Put(row)
}

// Buyer registers a buyer with a point balance.
func (s *Store) Buyer(t testing.TB, buyerID string, points int64) {
	t.Helper()
	s.Buyers.Add(buyerID)
	b, err := dompoint.New(buyerID, points)
	require.NoError(t, err)
	s.Points.Put(b)
}

func (s *Store) Coupon(t testing.TB, id, owner string, kind domcoupon.Kind, value int64) {
	t.Helper()
	c, err := domcoupon.New(id, owner, id, kind, value)
	require.NoError(t, err)
	s.Coupons.Put(c)
}

func (s *Store) StockOf(t testing.TB, productID string) int {
	t.Helper()
	row, err := s.Stocks.Get(context.Background(), productID)
	require.NoError(t, err)
	return row.Quantity
}

func (s *Store) PointsOf(t testing.TB, buyerID string) int64 {
	t.Helper()
	b, err := s.Points.Get(context.Background(), buyerID)
	require.NoError(t, err)
	return b.Amount
}

func (s *Store) CouponUsed(t testing.TB, id string) bool {
	t.Helper()
	c, err := s.Coupons.FindByID(context.Background(), id)
	require.NoError(t, err)
	return c.Used
}

// Instruments returns nop-backed instruments for service.
func Instruments(service string) *application.Instruments {
	return application.NewInstruments(observability.Nop(), service)
}
