package order

import "time"

// OrderCompletedEvent is emitted once the order transaction has committed.
// It feeds downstream consumers only; nothing in the saga depends on it.
type OrderCompletedEvent struct {
	OrderID     string
	BuyerID     string
	Items       []Item
	TotalAmount int64
	FinalAmount int64
	UsedPoints  int64
	CouponID    string
	OccurredAt  time.Time
}

func (OrderCompletedEvent) EventName() string { return "order.completed" }

func NewOrderCompletedEvent(o *Order) OrderCompletedEvent {
	return OrderCompletedEvent{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		Items:       append([]Item(nil), o.Items...),
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		UsedPoints:  o.UsedPoints,
		CouponID:    o.CouponID,
		OccurredAt:  time.Now().UTC(),
	}
}
