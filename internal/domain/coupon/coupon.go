package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrNotFound        = apperr.New(apperr.NotFound, "coupon: not found")
	ErrInvalidKind     = apperr.New(apperr.BadRequest, "coupon: kind must be FLAT or RATE")
	ErrInvalidDiscount = apperr.New(apperr.BadRequest, "coupon: discount value out of range")
	ErrInvalidName     = apperr.New(apperr.BadRequest, "coupon: name is required")
	ErrAlreadyUsed     = apperr.New(apperr.BadRequest, "coupon: already used")
	ErrVersionConflict = apperr.New(apperr.Conflict, "coupon: concurrent usage conflict")
)

type Kind string

const (
	KindFlat Kind = "FLAT"
	KindRate Kind = "RATE"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFlat, KindRate:
		return Kind(s), nil
	default:
		return "", ErrInvalidKind
	}
}

// Coupon is a one-time discount owned by a single buyer. Used flips from
// false to true exactly once per redemption; Version backs the optimistic
// lock that decides the winner among concurrent redemptions.
type Coupon struct {
	ID        string
	OwnerID   string
	Name      string
	Kind      Kind
	Value     int64
	Used      bool
	UsedAt    *time.Time
	Version   int64
	CreatedAt time.Time
}

func New(id, ownerID, name string, kind Kind, value int64) (*Coupon, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := validateDiscount(kind, value); err != nil {
		return nil, err
	}
	return &Coupon{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		Kind:      kind,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func validateDiscount(kind Kind, value int64) error {
	switch kind {
	case KindFlat:
		if value < 0 {
			return ErrInvalidDiscount
		}
	case KindRate:
		if value < 0 || value > 100 {
			return ErrInvalidDiscount
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// Use marks the coupon as redeemed. A second call fails with ErrAlreadyUsed.
func (c *Coupon) Use(now time.Time) error {
	if c.Used {
		return ErrAlreadyUsed
	}
	c.Used = true
	at := now.UTC()
	c.UsedAt = &at
	return nil
}

// Restore makes a redeemed coupon usable again. Restoring an unused coupon
// is a no-op and reports false.
func (c *Coupon) Restore() bool {
	if !c.Used {
		return false
	}
	c.Used = false
	c.UsedAt = nil
	return true
}

// Discount is the amount taken off orderTotal. It never exceeds the total.
func (c *Coupon) Discount(orderTotal int64) int64 {
	if orderTotal <= 0 {
		return 0
	}
	var d int64
	switch c.Kind {
	case KindFlat:
		d = c.Value
	case KindRate:
		d = decimal.NewFromInt(orderTotal).
			Mul(decimal.NewFromInt(c.Value)).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
	}
	if d > orderTotal {
		d = orderTotal
	}
	return d
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	clone := *c
	if c.UsedAt != nil {
		at := *c.UsedAt
		clone.UsedAt = &at
	}
	return &clone
}
