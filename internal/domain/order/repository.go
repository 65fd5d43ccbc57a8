package order

import "context"

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	// Update persists order when its stored version matches order.Version and
	// bumps the version. A stale write fails with ErrConflict.
	Update(ctx context.Context, order *Order) error
}
