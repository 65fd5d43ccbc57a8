package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errLockTimeout = errors.New("memory: lock wait timeout")
	errNoTx        = errors.New("memory: locked read requires a transaction")
)

type txKey struct{}

// txn is the in-memory stand-in for a database transaction: the row locks it
// holds and the undo steps that restore every write it made.
type txn struct {
	mu    sync.Mutex
	undo  []func()
	locks []*rowLock
}

func txFrom(ctx context.Context) *txn {
	t, _ := ctx.Value(txKey{}).(*txn)
	return t
}

func (t *txn) onRollback(fn func()) {
	t.mu.Lock()
	t.undo = append(t.undo, fn)
	t.mu.Unlock()
}

func (t *txn) holds(l *rowLock) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.locks {
		if h == l {
			return true
		}
	}
	return false
}

func (t *txn) finish(commit bool) {
	t.mu.Lock()
	undo, locks := t.undo, t.locks
	t.undo, t.locks = nil, nil
	t.mu.Unlock()

	if !commit {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].release()
	}
}

// TxManager runs functions inside an in-memory transaction.
type TxManager struct{}

func NewTxManager() *TxManager { return &TxManager{} }

func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	t := &txn{}
	committed := false
	defer func() {
		if r := recover(); r != nil {
			t.finish(false)
			panic(r)
		}
		t.finish(committed)
	}()

	if err = fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	committed = true
	return nil
}

type rowLock struct{ ch chan struct{} }

func (l *rowLock) release() { <-l.ch }

// lockTable hands out one exclusive lock per key, held until the owning
// transaction finishes.
type lockTable struct {
	mu   sync.Mutex
	rows map[string]*rowLock
}

func newLockTable() *lockTable {
	return &lockTable{rows: make(map[string]*rowLock)}
}

func (lt *lockTable) get(key string) *rowLock {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l, ok := lt.rows[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		lt.rows[key] = l
	}
	return l
}

// acquire blocks until t owns key. A zero timeout waits until ctx is done.
// Re-acquiring a key the transaction already holds returns immediately.
func (lt *lockTable) acquire(ctx context.Context, t *txn, key string, timeout time.Duration) error {
	if t == nil {
		return errNoTx
	}
	l := lt.get(key)
	if t.holds(l) {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case l.ch <- struct{}{}:
		t.mu.Lock()
		t.locks = append(t.locks, l)
		t.mu.Unlock()
		return nil
	case <-expired:
		return errLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
