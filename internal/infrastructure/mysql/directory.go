package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
)

type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog { return &Catalog{db: db} }

func (c *Catalog) FindProducts(ctx context.Context, ids []string) (map[string]apporder.Product, error) {
	out := make(map[string]apporder.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []productModel
	if err := conn(ctx, c.db).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: find products: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = apporder.Product{ID: r.ID, Name: r.Name, Price: r.Price}
	}
	return out, nil
}

type Buyers struct {
	db *gorm.DB
}

func NewBuyers(db *gorm.DB) *Buyers { return &Buyers{db: db} }

func (b *Buyers) Exists(ctx context.Context, id string) (bool, error) {
	var m buyerModel
	err := conn(ctx, b.db).Select("id").Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("buyers: exists %s: %w", id, err)
	}
	return true, nil
}
