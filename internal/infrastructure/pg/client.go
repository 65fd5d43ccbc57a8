// Package pg is the HTTP adapter for the external payment gateway.
package pg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	peer          = "pg"
	endpointPay   = "submit"
	endpointQuery = "status"
	breakerName   = "pg"
	resultSuccess = "SUCCESS"
	resultFail    = "FAIL"
)

type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker from closed to open.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial call.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial calls allowed while half-open.
	HalfOpenRequests uint32
	// Interval clears the closed-state counters periodically. Zero never clears.
	Interval time.Duration
}

type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Breaker        BreakerConfig
	StatusRetry    RetryConfig
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 10 * time.Second
	}
	if c.Breaker.HalfOpenRequests == 0 {
		c.Breaker.HalfOpenRequests = 1
	}
	if c.StatusRetry.Attempts <= 0 {
		c.StatusRetry.Attempts = 1
	}
	return c
}

// Client talks to the PG over HTTP. Every call passes through one circuit
// breaker; only status queries are retried.
type Client struct {
	http    *http.Client
	base    string
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	log     observability.Logger
	extReq  observability.Counter
	extDur  observability.Histogram
	breaker observability.Gauge
}

var _ domain.Gateway = (*Client)(nil)

func NewClient(cfg Config, tel observability.Observability) *Client {
	cfg = cfg.withDefaults()
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		log:     tel.Logger().With(observability.F("component", "pg_client")),
		extReq:  m.Counter(observability.MExternalRequests),
		extDur:  m.Histogram(observability.MExternalRequestDuration),
		breaker: m.Gauge(observability.MCircuitBreakerState),
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		// A rejected request says nothing about the PG's health.
		IsSuccessful: func(err error) bool {
			var ce *callError
			return err == nil || (errors.As(err, &ce) && ce.category == domain.FailureBadRequest)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.breaker.Set(stateValue(to), observability.L("breaker", name))
			c.log.Warn("circuit_breaker_state_changed",
				observability.F("breaker", name),
				observability.F("from", from.String()),
				observability.F("to", to.String()),
			)
		},
	})
	c.breaker.Set(stateValue(gobreaker.StateClosed), observability.L("breaker", breakerName))
	return c
}

// WithoutRetry returns a view of c whose status queries make a single call.
// Both share the transport and the breaker. Callers with their own retry
// loop use it so that the loop's ceiling is the real number of PG calls.
func (c *Client) WithoutRetry() *Client {
	cp := *c
	cp.cfg.StatusRetry.Attempts = 1
	return &cp
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) BreakerState() domain.BreakerState {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}

type paymentRequest struct {
	OrderID     string `json:"orderId"`
	CardType    string `json:"cardType"`
	CardNo      string `json:"cardNo"`
	Amount      string `json:"amount"`
	CallbackURL string `json:"callbackUrl"`
}

type response struct {
	Meta struct {
		Result    string `json:"result"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"meta"`
	Data *struct {
		TransactionKey string `json:"transactionKey"`
		Status         string `json:"status"`
	} `json:"data"`
}

type callError struct {
	category domain.FailureCategory
	message  string
}

func (e *callError) Error() string { return string(e.category) + ": " + e.message }

// Submit sends the payment once. It is never retried so that a slow PG
// cannot be asked to charge twice.
func (c *Client) Submit(ctx context.Context, req domain.SubmitRequest) domain.SubmitResult {
	body := paymentRequest{
		OrderID:     req.PaymentSeq,
		CardType:    req.CardType,
		CardNo:      req.CardNo,
		Amount:      strconv.FormatInt(req.Amount, 10),
		CallbackURL: req.CallbackURL,
	}
	resp, err := c.call(ctx, endpointPay, http.MethodPost, c.base+"/api/v1/payments", body)
	if err != nil {
		ce := asCallError(err)
		return domain.SubmitResult{Failure: ce.category, Message: ce.message}
	}
	var key string
	if resp.Data != nil {
		key = resp.Data.TransactionKey
	}
	return domain.SubmitResult{TransactionKey: key, Message: resp.Meta.Message}
}

// Status asks the PG where a payment stands, retrying transient failures
// with a constant backoff. An open breaker ends the retries at once.
func (c *Client) Status(ctx context.Context, paymentSeq string) domain.StatusResult {
	var resp *response
	op := func() error {
		r, err := c.call(ctx, endpointQuery, http.MethodGet, c.base+"/api/v1/payments/"+url.PathEscape(paymentSeq), nil)
		if err != nil {
			if ce := asCallError(err); !ce.category.Retryable() || ce.category == domain.FailureCircuitOpen {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.StatusRetry.Backoff), uint64(c.cfg.StatusRetry.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		ce := asCallError(err)
		return domain.StatusResult{Failure: ce.category, Message: ce.message}
	}
	if resp.Data == nil {
		return domain.StatusResult{Failure: domain.FailureServerError, Message: "status response without data"}
	}

	status, ok := mapStatus(resp.Data.Status)
	if !ok {
		return domain.StatusResult{Failure: domain.FailureServerError, Message: "unrecognized gateway status " + resp.Data.Status}
	}
	return domain.StatusResult{Status: status, TransactionKey: resp.Data.TransactionKey, Message: resp.Meta.Message}
}

// mapStatus folds the PG's vocabulary into ours. The PG reports PENDING for
// payments it has accepted but not settled.
func mapStatus(s string) (domain.Status, bool) {
	switch strings.ToUpper(s) {
	case "PENDING", "PROCESSING":
		return domain.StatusProcessing, true
	case "COMPLETED", "SUCCESS":
		return domain.StatusCompleted, true
	case "FAILED":
		return domain.StatusFailed, true
	case "CANCELED", "CANCELLED":
		return domain.StatusCanceled, true
	case "PARTIAL_CANCELED":
		return domain.StatusPartialCanceled, true
	}
	return "", false
}

func (c *Client) call(ctx context.Context, endpoint, method, target string, body any) (*response, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (any, error) {
		return c.do(ctx, method, target, body)
	})

	outcome := "success"
	if err != nil {
		outcome = string(asCallError(err).category)
	}
	labels := []observability.Label{
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	}
	c.extReq.Add(1, labels...)
	c.extDur.Observe(time.Since(start).Seconds(), labels...)

	if err != nil {
		logctx.FromOr(ctx, c.log).Warn("pg_call_failed",
			observability.F("endpoint", endpoint),
			observability.F("error", err.Error()),
		)
		return nil, err
	}
	return out.(*response), nil
}

func (c *Client) do(ctx context.Context, method, target string, body any) (*response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &callError{category: domain.FailureBadRequest, message: err.Error()}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &callError{category: domain.FailureBadRequest, message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &callError{category: domain.FailureNetworkError, message: err.Error()}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &callError{category: domain.FailureNetworkError, message: err.Error()}
	}

	var decoded response
	decodeErr := json.Unmarshal(raw, &decoded)

	if cat, failed := categoryFor(res.StatusCode); failed {
		msg := decoded.Meta.Message
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("http %d", res.StatusCode)
		}
		return nil, &callError{category: cat, message: msg}
	}

	// A 2xx we cannot read may still mean the PG accepted the payment, so it
	// stays retryable. Only an explicit FAIL is a rejection.
	switch {
	case decodeErr != nil:
		return nil, &callError{
			category: domain.FailureServerError,
			message:  fmt.Sprintf("http %d: undecodable body: %v", res.StatusCode, decodeErr),
		}
	case decoded.Meta.Result == resultFail:
		return nil, &callError{category: domain.FailureBadRequest, message: decoded.Meta.Message}
	case decoded.Meta.Result != resultSuccess:
		return nil, &callError{
			category: domain.FailureServerError,
			message:  fmt.Sprintf("http %d: unexpected meta.result %q", res.StatusCode, decoded.Meta.Result),
		}
	}
	return &decoded, nil
}

func categoryFor(code int) (domain.FailureCategory, bool) {
	switch {
	case code < 400:
		return "", false
	case code == http.StatusServiceUnavailable:
		return domain.FailureServiceUnavailable, true
	case code >= 500:
		return domain.FailureServerError, true
	default:
		return domain.FailureBadRequest, true
	}
}

func asCallError(err error) *callError {
	var ce *callError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &callError{category: domain.FailureCircuitOpen, message: err.Error()}
	}
	return &callError{category: domain.FailureNetworkError, message: err.Error()}
}
