package order

import (
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrNotFound               = apperr.New(apperr.NotFound, "order: not found")
	ErrNoItems                = apperr.New(apperr.BadRequest, "order: at least one item is required")
	ErrInvalidQuantity        = apperr.New(apperr.BadRequest, "order: quantity must be greater than zero")
	ErrInvalidPoints          = apperr.New(apperr.BadRequest, "order: points to use must be zero or greater")
	ErrPointsExceedAmount     = apperr.New(apperr.BadRequest, "order: points to use exceed the amount left after the coupon")
	ErrInvalidStateTransition = apperr.New(apperr.BadRequest, "order: invalid state transition")
	ErrConflict               = apperr.New(apperr.Conflict, "order: concurrent modification")
)

type Status string

const (
	StatusOrdered   Status = "ORDERED"
	StatusPaid      Status = "PAID"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Item is a line item. Name and UnitPrice are copied from the catalog when
// the order is placed and never re-read afterwards.
type Item struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
}

func (i Item) Subtotal() int64 { return i.UnitPrice * int64(i.Quantity) }

type Order struct {
	ID             string
	BuyerID        string
	Items          []Item
	Status         Status
	CouponID       string
	CouponDiscount int64
	UsedPoints     int64
	TotalAmount    int64
	FinalAmount    int64
	PaymentMethod  string
	FailureReason  string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func New(id, buyerID string, items []Item, paymentMethod string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:            id,
		BuyerID:       buyerID,
		Items:         append([]Item(nil), items...),
		Status:        StatusOrdered,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.recalc()
	return o, nil
}

// ApplyCoupon records the coupon and its discount, capped at what the points
// already applied leave payable.
func (o *Order) ApplyCoupon(couponID string, discount int64) {
	if discount < 0 {
		discount = 0
	}
	if limit := o.TotalAmount - o.UsedPoints; discount > limit {
		discount = limit
	}
	o.CouponID = couponID
	o.CouponDiscount = discount
	o.recalc()
}

// ApplyPoints spends points against what the coupon left payable. Points
// beyond that are rejected rather than silently burned.
func (o *Order) ApplyPoints(points int64) error {
	if points < 0 {
		return ErrInvalidPoints
	}
	if points > o.TotalAmount-o.CouponDiscount {
		return fmt.Errorf("%w: %d > %d", ErrPointsExceedAmount, points, o.TotalAmount-o.CouponDiscount)
	}
	o.UsedPoints = points
	o.recalc()
	return nil
}

func (o *Order) recalc() {
	var total int64
	for _, it := range o.Items {
		total += it.Subtotal()
	}
	o.TotalAmount = total
	final := total - o.CouponDiscount - o.UsedPoints
	if final < 0 {
		final = 0
	}
	o.FinalAmount = final
}

func (o *Order) HasCoupon() bool { return o.CouponID != "" }

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
