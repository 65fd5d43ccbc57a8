package order

import (
	"context"

	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

var (
	ErrBuyerNotFound   = apperr.New(apperr.NotFound, "order: buyer not found")
	ErrProductNotFound = apperr.New(apperr.NotFound, "order: product not found")
)

type IDGenerator interface {
	NewID() string
	NewPaymentSeq() string
}

// Product is the catalog view captured into an order line.
type Product struct {
	ID    string
	Name  string
	Price int64
}

// Catalog resolves products by id. Missing ids are absent from the map.
type Catalog interface {
	FindProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

type BuyerDirectory interface {
	Exists(ctx context.Context, buyerID string) (bool, error)
}

type StartPaymentInput struct {
	PaymentSeq string
	Method     dompayment.Method
	Amount     int64
	CardType   string
	CardNo     string
}

// PaymentStarter submits a committed PENDING payment. It never fails order
// placement; the returned status is whatever the payment settled on.
type PaymentStarter interface {
	Start(ctx context.Context, in StartPaymentInput) (dompayment.Status, error)
}
