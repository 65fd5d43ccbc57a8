package point

import "context"

// Repository gives locked access to point balances. FindForUpdate waits for
// the row lock at most for the repository's configured timeout and fails
// with ErrLockTimeout instead of blocking indefinitely.
type Repository interface {
	FindForUpdate(ctx context.Context, userID string) (*Balance, error)
	Save(ctx context.Context, b *Balance) error
}
