// Package tx declares the local transaction boundary. Repositories look up the
// active transaction from the context handed to fn, so every ledger mutation
// issued inside Do commits or rolls back together.
package tx

import "context"

type Manager interface {
	// Do runs fn in a transaction. A nil return commits; an error or panic
	// rolls back. Nested calls join the outer transaction.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
