package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
)

// StockRepository keeps stock rows in memory behind per-product locks that
// block until the holding transaction ends.
type StockRepository struct {
	mu    sync.RWMutex
	rows  map[string]*stock.Stock
	locks *lockTable
}

func NewStockRepository() *StockRepository {
	return &StockRepository{
		rows:  make(map[string]*stock.Stock),
		locks: newLockTable(),
	}
}

// Put seeds or replaces a row outside of any transaction.
func (r *StockRepository) Put(s *stock.Stock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ProductID] = s.Clone()
}

func (r *StockRepository) FindForUpdate(ctx context.Context, productID string) (*stock.Stock, error) {
	if err := r.locks.acquire(ctx, txFrom(ctx), "stock:"+productID, 0); err != nil {
		return nil, fmt.Errorf("stock repository: lock %s: %w", productID, err)
	}
	return r.Get(ctx, productID)
}

func (r *StockRepository) Get(_ context.Context, productID string) (*stock.Stock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rows[productID]
	if !ok {
		return nil, stock.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *StockRepository) Save(ctx context.Context, s *stock.Stock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rows[s.ProductID]
	if !ok {
		return stock.ErrNotFound
	}
	if t := txFrom(ctx); t != nil {
		t.onRollback(func() { r.Put(prev) })
	}
	s.Version = prev.Version + 1
	r.rows[s.ProductID] = s.Clone()
	return nil
}

// PointRepository mirrors StockRepository for balances, but bounds the lock
// wait and reports point.ErrLockTimeout when it elapses.
type PointRepository struct {
	mu          sync.RWMutex
	rows        map[string]*point.Balance
	locks       *lockTable
	lockTimeout time.Duration
}

func NewPointRepository(lockTimeout time.Duration) *PointRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &PointRepository{
		rows:        make(map[string]*point.Balance),
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
	}
}

func (r *PointRepository) Put(b *point.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[b.UserID] = b.Clone()
}

func (r *PointRepository) FindForUpdate(ctx context.Context, userID string) (*point.Balance, error) {
	err := r.locks.acquire(ctx, txFrom(ctx), "point:"+userID, r.lockTimeout)
	if errors.Is(err, errLockTimeout) {
		return nil, point.ErrLockTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("point repository: lock %s: %w", userID, err)
	}
	return r.Get(ctx, userID)
}

func (r *PointRepository) Get(_ context.Context, userID string) (*point.Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.rows[userID]
	if !ok {
		return nil, point.ErrNotFound
	}
	return b.Clone(), nil
}

func (r *PointRepository) Save(ctx context.Context, b *point.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rows[b.UserID]
	if !ok {
		return point.ErrNotFound
	}
	if t := txFrom(ctx); t != nil {
		t.onRollback(func() { r.Put(prev) })
	}
	b.Version = prev.Version + 1
	r.rows[b.UserID] = b.Clone()
	return nil
}

// CouponRepository takes no locks; Update is a compare-and-swap on Version.
type CouponRepository struct {
	mu   sync.RWMutex
	rows map[string]*coupon.Coupon
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{rows: make(map[string]*coupon.Coupon)}
}

func (r *CouponRepository) Put(c *coupon.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.ID] = c.Clone()
}

func (r *CouponRepository) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rows[c.ID]
	if !ok {
		return coupon.ErrNotFound
	}
	if prev.Version != c.Version {
		return coupon.ErrVersionConflict
	}
	if t := txFrom(ctx); t != nil {
		t.onRollback(func() { r.Put(prev) })
	}
	c.Version++
	r.rows[c.ID] = c.Clone()
	return nil
}
