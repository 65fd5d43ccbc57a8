package stock

import "context"

// Repository gives locked access to stock rows. FindForUpdate holds an
// exclusive row lock until the surrounding transaction ends; callers must
// not mutate a row they did not load through it.
type Repository interface {
	FindForUpdate(ctx context.Context, productID string) (*Stock, error)
	Save(ctx context.Context, s *Stock) error
}
