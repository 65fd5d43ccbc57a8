package payment

import "time"

type Result string

const (
	ResultCompleted Result = "COMPLETED"
	ResultFailed    Result = "FAILED"
	ResultCancelled Result = "CANCELLED"
)

// ResultFor maps a terminal payment status to the published classification.
// Non-terminal statuses have none.
func ResultFor(s Status) (Result, bool) {
	switch s {
	case StatusCompleted:
		return ResultCompleted, true
	case StatusFailed:
		return ResultFailed, true
	case StatusCanceled, StatusPartialCanceled:
		return ResultCancelled, true
	}
	return "", false
}

// ResultEvent announces that a payment reached a terminal status.
type ResultEvent struct {
	OrderID        string
	PaymentSeq     string
	Result         Result
	TransactionKey string
	Message        string
	OccurredAt     time.Time
}

func (ResultEvent) EventName() string { return "payment.result" }

func NewResultEvent(p *Payment, r Result) ResultEvent {
	return ResultEvent{
		OrderID:        p.OrderID,
		PaymentSeq:     p.Seq,
		Result:         r,
		TransactionKey: p.TransactionKey,
		Message:        p.Reason,
		OccurredAt:     time.Now().UTC(),
	}
}
