package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

type PaymentRepository struct {
	mu    sync.RWMutex
	bySeq map[string]*domain.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{bySeq: make(map[string]*domain.Payment)}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	if p == nil || p.Seq == "" {
		return fmt.Errorf("payment repository: seq is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySeq[p.Seq]; exists {
		return domain.ErrConflict
	}
	if t := txFrom(ctx); t != nil {
		seq := p.Seq
		t.onRollback(func() {
			r.mu.Lock()
			delete(r.bySeq, seq)
			r.mu.Unlock()
		})
	}
	r.bySeq[p.Seq] = p.Clone()
	return nil
}

func (r *PaymentRepository) FindBySeq(_ context.Context, seq string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.bySeq[seq]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.bySeq[p.Seq]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.Version != p.Version {
		return domain.ErrConflict
	}
	if t := txFrom(ctx); t != nil {
		t.onRollback(func() {
			r.mu.Lock()
			r.bySeq[prev.Seq] = prev
			r.mu.Unlock()
		})
	}
	p.Version++
	r.bySeq[p.Seq] = p.Clone()
	return nil
}

func (r *PaymentRepository) FindStale(_ context.Context, status domain.Status, before time.Time, limit int) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Payment
	for _, p := range r.bySeq {
		if p.Status == status && p.UpdatedAt.Before(before) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
