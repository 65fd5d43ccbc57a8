package application

import (
	"context"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SpanPrefix     = "UC."
	PublishPeer    = "outbox"
	PublishTimeout = 300 * time.Millisecond
)

// Instruments carries the RED metrics and base logger shared by the use
// cases and workers of one service.
type Instruments struct {
	Tel observability.Observability
	// Base logger with fixed fields prebound (vendor must remain hidden).
	Log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case,outcome}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint,outcome}
}

func NewInstruments(tel observability.Observability, service string) *Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Instruments{
		Tel:          tel,
		Log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Run tracks a single use case execution from Begin to End.
type Run struct {
	in      *Instruments
	useCase string
	span    trace.Span
	start   time.Time
	Logger  observability.Logger

	Outcome string
	Status  string
	fields  []observability.Field
}

// Begin starts the span and the request logger for useCase. The returned
// context carries both.
func (in *Instruments) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.Tel.Tracer().Start(ctx, SpanPrefix+spanName, attrs...)

	logger := logctx.FromOr(ctx, in.Log).With(observability.F("use_case", useCase))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	return ctx, &Run{
		in:      in,
		useCase: useCase,
		span:    span,
		start:   time.Now(),
		Logger:  logger,
		Outcome: "success",
		Status:  "OK",
	}
}

func (r *Run) Span() trace.Span { return r.span }

// Fail records an error outcome with an upper-snake status and returns err.
func (r *Run) Fail(status string, err error) error {
	r.Outcome, r.Status = "error", status
	return err
}

// Set overrides the status text without changing the outcome.
func (r *Run) Set(status string) { r.Status = status }

// Field adds a field to the closing use_case_done line.
func (r *Run) Field(k string, v any) { r.fields = append(r.fields, observability.F(k, v)) }

// End closes the span, records the RED metrics and logs use_case_done.
func (r *Run) End(err error) {
	lat := time.Since(r.start).Seconds()
	if err != nil && r.Outcome == "success" {
		r.Outcome = "error"
		if r.Status == "OK" {
			r.Status = "ERROR"
		}
	}

	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, r.Status)
	} else {
		r.span.SetStatus(codes.Ok, r.Status)
	}
	r.span.End()

	labels := []observability.Label{
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.Outcome),
	}
	r.in.reqCounter.Add(1, labels...)
	r.in.durHistogram.Observe(lat, labels...)

	fields := append([]observability.Field{
		observability.F("outcome", r.Outcome),
		observability.F("status", r.Status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if err != nil {
		fields = append(fields,
			observability.F("error", err.Error()),
			observability.F("error_kind", apperr.Name(apperr.KindOf(err))),
		)
	}
	r.Logger.Info("use_case_done", fields...)
}

// Publish hands e to the publisher under a short timeout and records the
// call as an external request to the outbox. Delivery is best-effort: the
// error is returned for logging, never for rollback.
func (in *Instruments) Publish(ctx context.Context, pub domoutbox.Publisher, e domoutbox.Event) error {
	if pub == nil || e == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	err := pub.Publish(pubCtx, e)
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	in.External(PublishPeer, e.EventName(), outcome, time.Since(start))

	if err != nil {
		logctx.FromOr(ctx, in.Log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
	return err
}

// External records one call to a dependency outside the process.
func (in *Instruments) External(peer, endpoint, outcome string, d time.Duration) {
	labels := []observability.Label{
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	}
	in.extCounter.Add(1, labels...)
	in.extHistogram.Observe(d.Seconds(), labels...)
}
