package coupon

import "context"

type Repository interface {
	FindByID(ctx context.Context, id string) (*Coupon, error)
	// Update writes c only if the stored version still equals c.Version, then
	// advances c.Version. A stale version fails with ErrVersionConflict.
	Update(ctx context.Context, c *Coupon) error
}
