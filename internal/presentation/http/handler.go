// Package httppresentation exposes the saga over HTTP.
package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	domainPayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

const (
	componentHTTPHandler = "http_server"
	maxBodyBytes         = 1 << 20

	ackSuccess = "SUCCESS"
	ackFail    = "FAIL"
)

type BreakerReporter interface {
	BreakerState() domainPayment.BreakerState
}

type Deps struct {
	PlaceOrder  application.UseCase[appOrder.PlaceOrderInput, *appOrder.PlaceOrderResult]
	Callback    application.UseCase[appPayment.CallbackInput, *appPayment.CallbackResult]
	StatusCheck application.UseCase[string, *appPayment.StatusCheckResult]
	Gateway     BreakerReporter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type Handler struct {
	deps Deps
	log  observability.Logger
	tel  observability.Observability
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		deps: deps,
		log:  tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:  tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ObservabilityMiddleware(h.log, h.tel))

	r.Get("/health", h.handleHealth)
	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.handlePlaceOrder)
		r.Route("/payments", func(r chi.Router) {
			r.Post("/callback", h.handleCallback)
			r.Get("/gateway", h.handleGatewayState)
			r.Post("/{paymentSeq}/status-check", h.handleStatusCheck)
		})
	})
	return r
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	BuyerID       string             `json:"buyerId"`
	Items         []orderItemRequest `json:"items"`
	CouponID      string             `json:"couponId,omitempty"`
	PointsToUse   int64              `json:"pointsToUse"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	CardType      string             `json:"cardType,omitempty"`
	CardNo        string             `json:"cardNo,omitempty"`
}

type placeOrderResponse struct {
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	TotalPrice     int64     `json:"totalPrice"`
	TotalAmount    int64     `json:"totalAmount"`
	CouponDiscount int64     `json:"couponDiscount"`
	UsedPoints     int64     `json:"usedPoints"`
	PaymentSeq     string    `json:"paymentSeq"`
	PaymentStatus  string    `json:"paymentStatus"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.Name(apperr.BadRequest), err)
		return
	}

	in := appOrder.PlaceOrderInput{
		BuyerID:       req.BuyerID,
		CouponID:      req.CouponID,
		PointsToUse:   req.PointsToUse,
		PaymentMethod: req.PaymentMethod,
		CardType:      req.CardType,
		CardNo:        req.CardNo,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, appOrder.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := h.deps.PlaceOrder.Execute(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{
		OrderID:        res.OrderID,
		Status:         string(res.Status),
		CreatedAt:      res.CreatedAt,
		TotalPrice:     res.FinalAmount,
		TotalAmount:    res.TotalAmount,
		CouponDiscount: res.CouponDiscount,
		UsedPoints:     res.UsedPoints,
		PaymentSeq:     res.PaymentSeq,
		PaymentStatus:  string(res.PaymentStatus),
	})
}

// callbackRequest accepts both our field names and the PG's, which calls the
// payment sequence "orderId".
type callbackRequest struct {
	PaymentSeq     string      `json:"paymentSeq"`
	OrderID        string      `json:"orderId"`
	TransactionKey string      `json:"transactionKey"`
	Status         string      `json:"status"`
	Amount         json.Number `json:"amount"`
	Message        string      `json:"message"`
	Reason         string      `json:"reason"`
}

// handleCallback acknowledges with SUCCESS or FAIL. The PG redelivers on
// anything but a 200.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSONLenient(r, &req); err != nil {
		writeAck(w, http.StatusBadRequest, ackFail)
		return
	}
	seq := req.PaymentSeq
	if seq == "" {
		seq = req.OrderID
	}
	msg := req.Message
	if msg == "" {
		msg = req.Reason
	}
	var amount int64
	if req.Amount != "" {
		n, err := req.Amount.Int64()
		if err != nil {
			writeAck(w, http.StatusBadRequest, ackFail)
			return
		}
		amount = n
	}

	_, err := h.deps.Callback.Execute(r.Context(), appPayment.CallbackInput{
		PaymentSeq:     seq,
		TransactionKey: req.TransactionKey,
		Status:         req.Status,
		Amount:         amount,
		Message:        msg,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if k := apperr.KindOf(err); k == apperr.BadRequest || k == apperr.NotFound {
			status = http.StatusBadRequest
		}
		writeAck(w, status, ackFail)
		return
	}
	writeAck(w, http.StatusOK, ackSuccess)
}

type statusCheckResponse struct {
	PaymentSeq string `json:"paymentSeq"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Summary    string `json:"summary"`
}

func (h *Handler) handleStatusCheck(w http.ResponseWriter, r *http.Request) {
	seq := chi.URLParam(r, "paymentSeq")
	res, err := h.deps.StatusCheck.Execute(r.Context(), seq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusCheckResponse{
		PaymentSeq: seq,
		Before:     string(res.Before),
		After:      string(res.After),
		Summary:    res.Summary,
	})
}

func (h *Handler) handleGatewayState(w http.ResponseWriter, _ *http.Request) {
	state := domainPayment.BreakerClosed
	if h.deps.Gateway != nil {
		state = h.deps.Gateway.BreakerState()
	}
	writeJSON(w, http.StatusOK, map[string]string{"circuitBreaker": string(state)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeJSONLenient tolerates fields we do not model; the PG sends more than
// we read.
func decodeJSONLenient(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAck(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeError(w, statusFor(kind), apperr.Name(kind), err)
}

func statusFor(kind error) int {
	switch {
	case errors.Is(kind, apperr.NotFound):
		return http.StatusNotFound
	case errors.Is(kind, apperr.BadRequest):
		return http.StatusBadRequest
	case errors.Is(kind, apperr.Conflict):
		return http.StatusConflict
	case errors.Is(kind, apperr.ExternalUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
