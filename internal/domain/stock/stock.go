package stock

import (
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrNotFound        = apperr.New(apperr.NotFound, "stock: not found")
	ErrInvalidQuantity = apperr.New(apperr.BadRequest, "stock: quantity must be greater than zero")
	ErrNegativeStock   = apperr.New(apperr.BadRequest, "stock: quantity cannot be negative")
	ErrInsufficient    = apperr.New(apperr.BadRequest, "stock: insufficient quantity")
)

// Stock is the sellable quantity of one product. Version is the row's
// concurrency token and is advanced by the repository on every save.
type Stock struct {
	ProductID string
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

func New(productID string, quantity int) (*Stock, error) {
	if quantity < 0 {
		return nil, ErrNegativeStock
	}
	return &Stock{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Decrease takes qty units for an order. It never lets the quantity drop
// below zero.
func (s *Stock) Decrease(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > s.Quantity {
		return ErrInsufficient
	}
	s.Quantity -= qty
	s.touch()
	return nil
}

// Increase puts qty units back, used by compensation.
func (s *Stock) Increase(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.Quantity += qty
	s.touch()
	return nil
}

func (s *Stock) Clone() *Stock {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Stock) touch() {
	s.UpdatedAt = time.Now().UTC()
}
