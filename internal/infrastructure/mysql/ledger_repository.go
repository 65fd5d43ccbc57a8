package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository { return &StockRepository{db: db} }

// FindForUpdate issues SELECT ... FOR UPDATE; the row stays locked until the
// surrounding transaction ends.
func (r *StockRepository) FindForUpdate(ctx context.Context, productID string) (*stock.Stock, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	var m stockModel
	err := conn(ctx, r.db).Clauses(forUpdate).Where("product_id = ?", productID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, stock.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stock repository: lock %s: %w", productID, classify(err))
	}
	return &stock.Stock{ProductID: m.ProductID, Quantity: m.Quantity, Version: m.Version, UpdatedAt: m.UpdatedAt}, nil
}

func (r *StockRepository) Save(ctx context.Context, s *stock.Stock) error {
	res := conn(ctx, r.db).Model(&stockModel{}).
		Where("product_id = ?", s.ProductID).
		Updates(map[string]any{
			"quantity":   s.Quantity,
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("stock repository: save %s: %w", s.ProductID, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return stock.ErrNotFound
	}
	s.Version++
	return nil
}

// PointRepository locks balances the same way; the wait is bounded by the
// session's innodb_lock_wait_timeout, and error 1205 becomes
// point.ErrLockTimeout.
type PointRepository struct {
	db *gorm.DB
}

func NewPointRepository(db *gorm.DB) *PointRepository { return &PointRepository{db: db} }

func (r *PointRepository) FindForUpdate(ctx context.Context, userID string) (*point.Balance, error) {
	if !inTx(ctx) {
		return nil, errNoTx
	}
	var m pointModel
	err := conn(ctx, r.db).Clauses(forUpdate).Where("user_id = ?", userID).Take(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, point.ErrNotFound
	case codeOf(err) == codeLockWaitTimeout:
		return nil, point.ErrLockTimeout
	case err != nil:
		return nil, fmt.Errorf("point repository: lock %s: %w", userID, classify(err))
	}
	return &point.Balance{UserID: m.UserID, Amount: m.Amount, Version: m.Version, UpdatedAt: m.UpdatedAt}, nil
}

func (r *PointRepository) Save(ctx context.Context, b *point.Balance) error {
	res := conn(ctx, r.db).Model(&pointModel{}).
		Where("user_id = ?", b.UserID).
		Updates(map[string]any{
			"amount":     b.Amount,
			"version":    gorm.Expr("version + 1"),
			"updated_at": b.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("point repository: save %s: %w", b.UserID, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return point.ErrNotFound
	}
	b.Version++
	return nil
}

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository { return &CouponRepository{db: db} }

func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	var m couponModel
	err := conn(ctx, r.db).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coupon repository: find %s: %w", id, err)
	}
	return &coupon.Coupon{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		Kind:      coupon.Kind(m.Kind),
		Value:     m.Value,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
	}, nil
}

// Update is UPDATE ... WHERE id = ? AND version = ?; zero affected rows on an
// existing coupon means another redemption won.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	db := conn(ctx, r.db)
	res := db.Model(&couponModel{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]any{
			"used":    c.Used,
			"used_at": c.UsedAt,
			"version": c.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("coupon repository: update %s: %w", c.ID, classify(res.Error))
	}
	if res.RowsAffected == 0 {
		if exists, err := rowExists(db, &couponModel{}, "id = ?", c.ID); err != nil {
			return err
		} else if !exists {
			return coupon.ErrNotFound
		}
		return coupon.ErrVersionConflict
	}
	c.Version++
	return nil
}

func rowExists(db *gorm.DB, model any, query string, args ...any) (bool, error) {
	var n int64
	if err := db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, fmt.Errorf("mysql: exists: %w", err)
	}
	return n > 0, nil
}
