package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domcoupon "github.com/Zhima-Mochi/minishop-saga/internal/domain/coupon"
	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	dompoint "github.com/Zhima-Mochi/minishop-saga/internal/domain/point"
	domstock "github.com/Zhima-Mochi/minishop-saga/internal/domain/stock"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/tx"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	OrderService      = "order-service"
	useCasePlaceOrder = "order.place"
	paymentProvider   = "PG"
)

var (
	ErrBuyerRequired      = apperr.New(apperr.BadRequest, "order: buyer id is required")
	ErrProductRequired    = apperr.New(apperr.BadRequest, "order: product id is required")
	ErrCardRequired       = apperr.New(apperr.BadRequest, "order: card type and number are required for card payments")
	ErrPointOnlyUncovered = apperr.New(apperr.BadRequest, "order: points and coupon must cover the whole amount for POINT_ONLY")
)

type Dependencies struct {
	Tx       tx.Manager
	Orders   domain.Repository
	Stocks   domstock.Repository
	Points   dompoint.Repository
	Coupons  domcoupon.Repository
	Payments dompayment.Repository
	Catalog  Catalog
	Buyers   BuyerDirectory
	IDs      IDGenerator
	Payer    PaymentStarter
	Events   domoutbox.Publisher
}

// PlaceOrderUseCase reserves every resource an order needs in one local
// transaction, then hands the committed payment to the gateway.
type PlaceOrderUseCase struct {
	deps Dependencies
	in   *application.Instruments
	now  func() time.Time
}

func NewPlaceOrderUseCase(deps Dependencies, in *application.Instruments) *PlaceOrderUseCase {
	return &PlaceOrderUseCase{deps: deps, in: in, now: time.Now}
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type PlaceOrderInput struct {
	BuyerID       string
	Items         []ItemInput
	CouponID      string
	PointsToUse   int64
	PaymentMethod string
	CardType      string
	CardNo        string
}

type PlaceOrderResult struct {
	OrderID        string
	Status         domain.Status
	CreatedAt      time.Time
	TotalAmount    int64
	CouponDiscount int64
	UsedPoints     int64
	FinalAmount    int64
	PaymentSeq     string
	PaymentStatus  dompayment.Status
}

// Execute places the order. Any failure before commit leaves every ledger
// untouched; failures after commit are logged and never surface.
func (uc *PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderInput) (_ *PlaceOrderResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCasePlaceOrder, "PlaceOrder",
		attribute.String("order.buyer_id", cmd.BuyerID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	defer func() { run.End(err) }()

	method, lines, verr := validate(cmd)
	if verr != nil {
		return nil, run.Fail("VALIDATION_FAILED", verr)
	}

	ok, berr := uc.deps.Buyers.Exists(ctx, cmd.BuyerID)
	if berr != nil {
		return nil, run.Fail("BUYER_LOOKUP_FAILED", fmt.Errorf("order: lookup buyer: %w", berr))
	}
	if !ok {
		return nil, run.Fail("BUYER_NOT_FOUND", ErrBuyerNotFound)
	}

	items, serr := uc.snapshot(ctx, lines)
	if serr != nil {
		return nil, run.Fail("PRODUCT_NOT_FOUND", serr)
	}

	var (
		entity *domain.Order
		pay    *dompayment.Payment
	)
	txErr := uc.deps.Tx.Do(ctx, func(ctx context.Context) error {
		var err error
		if err = uc.reserveStock(ctx, items); err != nil {
			return err
		}
		if err = uc.deductPoints(ctx, cmd.BuyerID, cmd.PointsToUse); err != nil {
			return err
		}

		entity, err = domain.New(uc.deps.IDs.NewID(), cmd.BuyerID, items, string(method))
		if err != nil {
			return err
		}
		if cmd.CouponID != "" {
			discount, err := uc.redeemCoupon(ctx, cmd.BuyerID, cmd.CouponID, entity.TotalAmount)
			if err != nil {
				return err
			}
			entity.ApplyCoupon(cmd.CouponID, discount)
		}
		if err = entity.ApplyPoints(cmd.PointsToUse); err != nil {
			return err
		}
		if method == dompayment.MethodPointOnly && entity.FinalAmount > 0 {
			return ErrPointOnlyUncovered
		}
		if err = uc.deps.Orders.Insert(ctx, entity); err != nil {
			return fmt.Errorf("order: insert: %w", err)
		}

		pay, err = dompayment.New(uc.deps.IDs.NewID(), entity.ID, uc.deps.IDs.NewPaymentSeq(), method, entity.FinalAmount, paymentProvider)
		if err != nil {
			return err
		}
		if err = uc.deps.Payments.Insert(ctx, pay); err != nil {
			return fmt.Errorf("order: insert payment: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, run.Fail(statusFor(txErr), txErr)
	}

	span := run.Span()
	span.SetAttributes(
		attribute.String("order.id", entity.ID),
		attribute.String("payment.seq", pay.Seq),
	)
	span.AddEvent("order.committed", trace.WithAttributes(attribute.Int64("order.final_amount", entity.FinalAmount)))
	run.Field("order_id", entity.ID)
	run.Field("payment_seq", pay.Seq)

	if entity.HasCoupon() {
		if perr := uc.in.Publish(ctx, uc.deps.Events, domcoupon.NewUsageEvent(entity.ID, entity.CouponID, entity.BuyerID, entity.TotalAmount, entity.CouponDiscount)); perr != nil {
			run.Set("EVENT_PUBLISH_FAILED")
		}
	}
	if perr := uc.in.Publish(ctx, uc.deps.Events, domain.NewOrderCompletedEvent(entity)); perr != nil {
		run.Set("EVENT_PUBLISH_FAILED")
	}

	payStatus := pay.Status
	if uc.deps.Payer != nil {
		st, perr := uc.deps.Payer.Start(ctx, StartPaymentInput{
			PaymentSeq: pay.Seq,
			Method:     method,
			Amount:     entity.FinalAmount,
			CardType:   cmd.CardType,
			CardNo:     cmd.CardNo,
		})
		if perr != nil {
			run.Set("PAYMENT_START_FAILED")
			run.Logger.Warn("payment_start_failed",
				observability.F("payment_seq", pay.Seq),
				observability.F("error", perr.Error()),
			)
		}
		if st != "" {
			payStatus = st
		}
	}
	run.Field("payment_status", string(payStatus))

	return &PlaceOrderResult{
		OrderID:        entity.ID,
		Status:         entity.Status,
		CreatedAt:      entity.CreatedAt,
		TotalAmount:    entity.TotalAmount,
		CouponDiscount: entity.CouponDiscount,
		UsedPoints:     entity.UsedPoints,
		FinalAmount:    entity.FinalAmount,
		PaymentSeq:     pay.Seq,
		PaymentStatus:  payStatus,
	}, nil
}

func validate(cmd PlaceOrderInput) (dompayment.Method, []ItemInput, error) {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return "", nil, ErrBuyerRequired
	}
	if len(cmd.Items) == 0 {
		return "", nil, domain.ErrNoItems
	}
	if cmd.PointsToUse < 0 {
		return "", nil, domain.ErrInvalidPoints
	}

	method := dompayment.MethodCard
	if cmd.PaymentMethod != "" {
		m, err := dompayment.ParseMethod(cmd.PaymentMethod)
		if err != nil {
			return "", nil, err
		}
		method = m
	}
	if method == dompayment.MethodCard && (cmd.CardType == "" || cmd.CardNo == "") {
		return "", nil, ErrCardRequired
	}

	// Repeated products collapse into one line so each stock row is locked once.
	merged := make(map[string]int, len(cmd.Items))
	order := make([]string, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		if it.ProductID == "" {
			return "", nil, ErrProductRequired
		}
		if it.Quantity <= 0 {
			return "", nil, domain.ErrInvalidQuantity
		}
		if _, seen := merged[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}
	lines := make([]ItemInput, 0, len(order))
	for _, id := range order {
		lines = append(lines, ItemInput{ProductID: id, Quantity: merged[id]})
	}
	return method, lines, nil
}

func (uc *PlaceOrderUseCase) snapshot(ctx context.Context, lines []ItemInput) ([]domain.Item, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := uc.deps.Catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("order: catalog lookup: %w", err)
	}

	items := make([]domain.Item, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		items = append(items, domain.Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
		})
	}
	return items, nil
}

// reserveStock locks rows in ascending product id order so that two orders
// sharing products cannot deadlock each other.
func (uc *PlaceOrderUseCase) reserveStock(ctx context.Context, items []domain.Item) error {
	sorted := append([]domain.Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, it := range sorted {
		s, err := uc.deps.Stocks.FindForUpdate(ctx, it.ProductID)
		if err != nil {
			return fmt.Errorf("order: lock stock %s: %w", it.ProductID, err)
		}
		if err := s.Decrease(it.Quantity); err != nil {
			return fmt.Errorf("order: stock %s: %w", it.ProductID, err)
		}
		if err := uc.deps.Stocks.Save(ctx, s); err != nil {
			return fmt.Errorf("order: save stock %s: %w", it.ProductID, err)
		}
	}
	return nil
}

func (uc *PlaceOrderUseCase) deductPoints(ctx context.Context, buyerID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	b, err := uc.deps.Points.FindForUpdate(ctx, buyerID)
	if err != nil {
		return fmt.Errorf("order: lock points: %w", err)
	}
	if err := b.Deduct(amount); err != nil {
		return fmt.Errorf("order: points: %w", err)
	}
	if err := uc.deps.Points.Save(ctx, b); err != nil {
		return fmt.Errorf("order: save points: %w", err)
	}
	return nil
}

func (uc *PlaceOrderUseCase) redeemCoupon(ctx context.Context, buyerID, couponID string, total int64) (int64, error) {
	c, err := uc.deps.Coupons.FindByID(ctx, couponID)
	if err != nil {
		return 0, fmt.Errorf("order: load coupon: %w", err)
	}
	if c.OwnerID != buyerID {
		return 0, fmt.Errorf("order: coupon %s: %w", couponID, domcoupon.ErrNotFound)
	}
	if err := c.Use(uc.now()); err != nil {
		return 0, fmt.Errorf("order: coupon %s: %w", couponID, err)
	}
	discount := c.Discount(total)
	if err := uc.deps.Coupons.Update(ctx, c); err != nil {
		return 0, fmt.Errorf("order: redeem coupon %s: %w", couponID, err)
	}
	return discount, nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domstock.ErrInsufficient):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, domstock.ErrNotFound):
		return "STOCK_NOT_FOUND"
	case errors.Is(err, dompoint.ErrInsufficient):
		return "INSUFFICIENT_POINTS"
	case errors.Is(err, dompoint.ErrLockTimeout):
		return "POINT_LOCK_TIMEOUT"
	case errors.Is(err, dompoint.ErrNotFound):
		return "POINT_BALANCE_NOT_FOUND"
	case errors.Is(err, domcoupon.ErrAlreadyUsed):
		return "COUPON_ALREADY_USED"
	case errors.Is(err, domcoupon.ErrVersionConflict):
		return "COUPON_CONFLICT"
	case errors.Is(err, domcoupon.ErrNotFound):
		return "COUPON_NOT_FOUND"
	case errors.Is(err, ErrPointOnlyUncovered):
		return "POINT_ONLY_UNCOVERED"
	case errors.Is(err, domain.ErrPointsExceedAmount):
		return "POINTS_EXCEED_AMOUNT"
	default:
		return "TRANSACTION_FAILED"
	}
}
