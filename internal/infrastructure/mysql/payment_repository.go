package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository { return &PaymentRepository{db: db} }

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	m := toPaymentModel(p)
	if err := conn(ctx, r.db).Create(&m).Error; err != nil {
		if codeOf(err) == codeDuplicateEntry {
			return domain.ErrConflict
		}
		return fmt.Errorf("payment repository: insert %s: %w", p.Seq, classify(err))
	}
	return nil
}

func (r *PaymentRepository) FindBySeq(ctx context.Context, seq string) (*domain.Payment, error) {
	var m paymentModel
	err := conn(ctx, r.db).Where("seq = ?", seq).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment repository: find %s: %w", seq, err)
	}
	return toPayment(&m), nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	db := conn(ctx, r.db)
	res := db.Model(&paymentModel{}).
		Where("seq = ? AND version = ?", p.Seq, p.Version).
		Updates(map[string]any{
			"status":          string(p.Status),
			"transaction_key": p.TransactionKey,
			"reason":          p.Reason,
			"paid_at":         p.PaidAt,
			"failed_at":       p.FailedAt,
			"canceled_at":     p.CanceledAt,
			"version":         p.Version + 1,
			"updated_at":      p.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("payment repository: update %s: %w", p.Seq, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		exists, err := rowExists(db, &paymentModel{}, "seq = ?", p.Seq)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	p.Version++
	return nil
}

func (r *PaymentRepository) FindStale(ctx context.Context, status domain.Status, before time.Time, limit int) ([]*domain.Payment, error) {
	q := conn(ctx, r.db).Where("status = ? AND updated_at < ?", string(status), before).Order("updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []paymentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("payment repository: find stale %s: %w", status, err)
	}
	out := make([]*domain.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, toPayment(&rows[i]))
	}
	return out, nil
}

// FindAwaitingResult is the SQL form of reconciliation.AwaitsResult.
func (r *PaymentRepository) FindAwaitingResult(ctx context.Context, settledBefore time.Time, limit int) ([]*domain.Payment, error) {
	q := conn(ctx, r.db).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.updated_at < ?", settledBefore).
		Where("(orders.status = ? AND payments.status IN ?) OR (orders.status = ? AND payments.status IN ?)",
			string(domorder.StatusOrdered), statusStrings(terminalStatuses...),
			string(domorder.StatusPaid), statusStrings(cancelStatuses...),
		).
		Order("payments.updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []paymentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("payment repository: find awaiting result: %w", err)
	}
	out := make([]*domain.Payment, 0, len(rows))
	for i := range rows {
		out = append(out, toPayment(&rows[i]))
	}
	return out, nil
}

var (
	terminalStatuses = []domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCanceled, domain.StatusPartialCanceled}
	cancelStatuses   = []domain.Status{domain.StatusCanceled, domain.StatusPartialCanceled}
)

func statusStrings(ss ...domain.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func toPaymentModel(p *domain.Payment) paymentModel {
	return paymentModel{
		Seq:            p.Seq,
		ID:             p.ID,
		OrderID:        p.OrderID,
		Status:         string(p.Status),
		Method:         string(p.Method),
		Amount:         p.Amount,
		Provider:       p.Provider,
		TransactionKey: p.TransactionKey,
		Reason:         p.Reason,
		PaidAt:         p.PaidAt,
		FailedAt:       p.FailedAt,
		CanceledAt:     p.CanceledAt,
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toPayment(m *paymentModel) *domain.Payment {
	return &domain.Payment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		Seq:            m.Seq,
		Status:         domain.Status(m.Status),
		Method:         domain.Method(m.Method),
		Amount:         m.Amount,
		Provider:       m.Provider,
		TransactionKey: m.TransactionKey,
		Reason:         m.Reason,
		PaidAt:         m.PaidAt,
		FailedAt:       m.FailedAt,
		CanceledAt:     m.CanceledAt,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
