package coupon

import "time"

// UsageEvent records a coupon redeemed by a committed order.
type UsageEvent struct {
	OrderID        string
	CouponID       string
	BuyerID        string
	OrderAmount    int64
	DiscountAmount int64
	OccurredAt     time.Time
}

func (UsageEvent) EventName() string { return "coupon.used" }

func NewUsageEvent(orderID, couponID, buyerID string, orderAmount, discount int64) UsageEvent {
	return UsageEvent{
		OrderID:        orderID,
		CouponID:       couponID,
		BuyerID:        buyerID,
		OrderAmount:    orderAmount,
		DiscountAmount: discount,
		OccurredAt:     time.Now().UTC(),
	}
}
