package httppresentation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	domainOrder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domainPayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

type useCaseFunc[C, R any] func(ctx context.Context, cmd C) (R, error)

func (f useCaseFunc[C, R]) Execute(ctx context.Context, cmd C) (R, error) { return f(ctx, cmd) }

type fixedBreaker domainPayment.BreakerState

func (b fixedBreaker) BreakerState() domainPayment.BreakerState { return domainPayment.BreakerState(b) }

func newServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(deps, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestPlaceOrderCreated(t *testing.T) {
	var got appOrder.PlaceOrderInput
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := newServer(t, Deps{
		PlaceOrder: useCaseFunc[appOrder.PlaceOrderInput, *appOrder.PlaceOrderResult](
			func(_ context.Context, in appOrder.PlaceOrderInput) (*appOrder.PlaceOrderResult, error) {
				got = in
				return &appOrder.PlaceOrderResult{
					OrderID:        "o1",
					Status:         domainOrder.StatusOrdered,
					CreatedAt:      created,
					TotalAmount:    10000,
					CouponDiscount: 0,
					UsedPoints:     1000,
					FinalAmount:    9000,
					PaymentSeq:     "PAY_1",
					PaymentStatus:  domainPayment.StatusProcessing,
				}, nil
			}),
	})

	resp := post(t, srv.URL+"/api/v1/orders", `{
		"buyerId": "u1",
		"items": [{"productId": "p1", "quantity": 2}],
		"pointsToUse": 1000,
		"paymentMethod": "CARD",
		"cardType": "SAMSUNG",
		"cardNo": "1234-5678-9814-1451"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	assert.Equal(t, "u1", got.BuyerID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, appOrder.ItemInput{ProductID: "p1", Quantity: 2}, got.Items[0])
	assert.Equal(t, int64(1000), got.PointsToUse)
	assert.Equal(t, "SAMSUNG", got.CardType)

	var body placeOrderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "o1", body.OrderID)
	assert.Equal(t, "ORDERED", body.Status)
	assert.Equal(t, int64(9000), body.TotalPrice)
	assert.Equal(t, int64(10000), body.TotalAmount)
	assert.Equal(t, "PAY_1", body.PaymentSeq)
	assert.Equal(t, "PROCESSING", body.PaymentStatus)
	assert.True(t, created.Equal(body.CreatedAt))
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "not found", err: apperr.New(apperr.NotFound, "stock: not found"), status: http.StatusNotFound, kind: "not_found"},
		{name: "bad request", err: apperr.New(apperr.BadRequest, "stock: insufficient"), status: http.StatusBadRequest, kind: "bad_request"},
		{name: "conflict", err: apperr.New(apperr.Conflict, "stock: version conflict"), status: http.StatusConflict, kind: "conflict"},
		{name: "unavailable", err: apperr.New(apperr.ExternalUnavailable, "pg: down"), status: http.StatusServiceUnavailable, kind: "external_unavailable"},
		{name: "unclassified", err: assert.AnError, status: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, Deps{
				PlaceOrder: useCaseFunc[appOrder.PlaceOrderInput, *appOrder.PlaceOrderResult](
					func(context.Context, appOrder.PlaceOrderInput) (*appOrder.PlaceOrderResult, error) {
						return nil, tt.err
					}),
			})
			resp := post(t, srv.URL+"/api/v1/orders", `{"buyerId":"u1","items":[{"productId":"p1","quantity":1}]}`)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestPlaceOrderMalformedBody(t *testing.T) {
	called := false
	srv := newServer(t, Deps{
		PlaceOrder: useCaseFunc[appOrder.PlaceOrderInput, *appOrder.PlaceOrderResult](
			func(context.Context, appOrder.PlaceOrderInput) (*appOrder.PlaceOrderResult, error) {
				called = true
				return nil, nil
			}),
	})

	for _, body := range []string{`{"buyerId":`, `{"buyerId":"u1","unknown":1}`} {
		resp := post(t, srv.URL+"/api/v1/orders", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.False(t, called)
}

func TestCallbackAcks(t *testing.T) {
	var got []appPayment.CallbackInput
	fail := map[string]error{
		"PAY_BAD":     apperr.New(apperr.BadRequest, "payment: amount mismatch"),
		"PAY_MISSING": apperr.New(apperr.NotFound, "payment: not found"),
		"PAY_BUSY":    apperr.New(apperr.Conflict, "payment: version conflict"),
	}
	srv := newServer(t, Deps{
		Callback: useCaseFunc[appPayment.CallbackInput, *appPayment.CallbackResult](
			func(_ context.Context, in appPayment.CallbackInput) (*appPayment.CallbackResult, error) {
				got = append(got, in)
				if err := fail[in.PaymentSeq]; err != nil {
					return nil, err
				}
				return &appPayment.CallbackResult{}, nil
			}),
	})

	tests := []struct {
		name   string
		body   string
		status int
		ack    string
	}{
		{name: "success", body: `{"paymentSeq":"PAY_1","transactionKey":"tx-1","status":"SUCCESS","amount":9000}`, status: http.StatusOK, ack: ackSuccess},
		{name: "rejected", body: `{"paymentSeq":"PAY_BAD","status":"SUCCESS","amount":1}`, status: http.StatusBadRequest, ack: ackFail},
		{name: "unknown payment", body: `{"paymentSeq":"PAY_MISSING","status":"FAILED"}`, status: http.StatusBadRequest, ack: ackFail},
		{name: "retryable", body: `{"paymentSeq":"PAY_BUSY","status":"FAILED"}`, status: http.StatusInternalServerError, ack: ackFail},
		{name: "malformed", body: `{"paymentSeq":`, status: http.StatusBadRequest, ack: ackFail},
		{name: "fractional amount", body: `{"paymentSeq":"PAY_1","status":"SUCCESS","amount":1.5}`, status: http.StatusBadRequest, ack: ackFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/v1/payments/callback", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.ack, readBody(t, resp))
		})
	}

	require.NotEmpty(t, got)
	assert.Equal(t, appPayment.CallbackInput{
		PaymentSeq: "PAY_1", TransactionKey: "tx-1", Status: "SUCCESS", Amount: 9000,
	}, got[0])
}

func TestCallbackFallsBackToPGFieldNames(t *testing.T) {
	var got appPayment.CallbackInput
	srv := newServer(t, Deps{
		Callback: useCaseFunc[appPayment.CallbackInput, *appPayment.CallbackResult](
			func(_ context.Context, in appPayment.CallbackInput) (*appPayment.CallbackResult, error) {
				got = in
				return &appPayment.CallbackResult{}, nil
			}),
	})

	resp := post(t, srv.URL+"/api/v1/payments/callback",
		`{"orderId":"PAY_9","transactionKey":"tx-9","status":"FAILED","reason":"limit exceeded","cardType":"KB"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PAY_9", got.PaymentSeq)
	assert.Equal(t, "limit exceeded", got.Message)
	assert.Zero(t, got.Amount)
}

func TestStatusCheck(t *testing.T) {
	srv := newServer(t, Deps{
		StatusCheck: useCaseFunc[string, *appPayment.StatusCheckResult](
			func(_ context.Context, seq string) (*appPayment.StatusCheckResult, error) {
				if seq != "PAY_1" {
					return nil, apperr.New(apperr.NotFound, "payment: not found")
				}
				return &appPayment.StatusCheckResult{
					Before:  domainPayment.StatusProcessing,
					After:   domainPayment.StatusCompleted,
					Summary: "PROCESSING -> COMPLETED",
				}, nil
			}),
	})

	resp := post(t, srv.URL+"/api/v1/payments/PAY_1/status-check", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body statusCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, statusCheckResponse{
		PaymentSeq: "PAY_1", Before: "PROCESSING", After: "COMPLETED", Summary: "PROCESSING -> COMPLETED",
	}, body)

	resp = post(t, srv.URL+"/api/v1/payments/PAY_2/status-check", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGatewayStateHealthAndMetrics(t *testing.T) {
	srv := newServer(t, Deps{
		Gateway: fixedBreaker(domainPayment.BreakerOpen),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})

	resp, err := http.Get(srv.URL + "/api/v1/payments/gateway")
	require.NoError(t, err)
	defer resp.Body.Close()
	var state map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "open", state["circuitBreaker"])

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readBody(t, resp))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "# metrics", readBody(t, resp))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newServer(t, Deps{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(headerRequestID))
}

func TestRoutePatternLabelsUnknownRoutes(t *testing.T) {
	srv := newServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
