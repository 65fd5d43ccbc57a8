package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository { return &OrderRepository{db: db} }

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	m := toOrderModel(o)
	if err := conn(ctx, r.db).Create(&m).Error; err != nil {
		if codeOf(err) == codeDuplicateEntry {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert %s: %w", o.ID, classify(err))
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var m orderModel
	err := conn(ctx, r.db).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order repository: find %s: %w", id, err)
	}
	return toOrder(&m), nil
}

// Update writes the mutable columns only; items never change after placement.
func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	db := conn(ctx, r.db)
	res := db.Model(&orderModel{}).
		Where("id = ? AND version = ?", o.ID, o.Version).
		Updates(map[string]any{
			"status":          string(o.Status),
			"coupon_id":       o.CouponID,
			"coupon_discount": o.CouponDiscount,
			"used_points":     o.UsedPoints,
			"total_amount":    o.TotalAmount,
			"final_amount":    o.FinalAmount,
			"failure_reason":  o.FailureReason,
			"version":         o.Version + 1,
			"updated_at":      o.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("order repository: update %s: %w", o.ID, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		exists, err := rowExists(db, &orderModel{}, "id = ?", o.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	o.Version++
	return nil
}

func toOrderModel(o *domain.Order) orderModel {
	m := orderModel{
		ID:             o.ID,
		BuyerID:        o.BuyerID,
		Status:         string(o.Status),
		CouponID:       o.CouponID,
		CouponDiscount: o.CouponDiscount,
		UsedPoints:     o.UsedPoints,
		TotalAmount:    o.TotalAmount,
		FinalAmount:    o.FinalAmount,
		PaymentMethod:  o.PaymentMethod,
		FailureReason:  o.FailureReason,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, orderItemModel{
			OrderID:     o.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return m
}

func toOrder(m *orderModel) *domain.Order {
	o := &domain.Order{
		ID:             m.ID,
		BuyerID:        m.BuyerID,
		Status:         domain.Status(m.Status),
		CouponID:       m.CouponID,
		CouponDiscount: m.CouponDiscount,
		UsedPoints:     m.UsedPoints,
		TotalAmount:    m.TotalAmount,
		FinalAmount:    m.FinalAmount,
		PaymentMethod:  m.PaymentMethod,
		FailureReason:  m.FailureReason,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return o
}
