package payment

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	FindBySeq(ctx context.Context, seq string) (*Payment, error)
	// Update is a compare-and-swap on Version; p.Version advances on success.
	Update(ctx context.Context, p *Payment) error
	// FindStale lists payments in status last updated before the cutoff.
	FindStale(ctx context.Context, status Status, before time.Time, limit int) ([]*Payment, error)
}
