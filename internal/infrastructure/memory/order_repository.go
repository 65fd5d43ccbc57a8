package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
)

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*domain.Order),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if t := txFrom(ctx); t != nil {
		id := order.ID
		t.onRollback(func() {
			r.mu.Lock()
			delete(r.orders, id)
			r.mu.Unlock()
		})
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if prev.Version != order.Version {
		return domain.ErrConflict
	}
	if t := txFrom(ctx); t != nil {
		t.onRollback(func() {
			r.mu.Lock()
			r.orders[prev.ID] = prev
			r.mu.Unlock()
		})
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return nil
}
