package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/dataplatform"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestSendEncodesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	s := &Sender{w: w}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := s.Send(context.Background(), dataplatform.Envelope{
		Type:       "order.completed",
		Key:        "o-1",
		OccurredAt: at,
		Payload:    map[string]any{"finalAmount": 9000},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	hc := headerCarrier(msg.Headers)
	assert.Equal(t, "order.completed", hc.Get(headerEventType))
	assert.Equal(t, eventVersion, hc.Get(headerEventVersion))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "order.completed", decoded["type"])
	assert.Equal(t, "o-1", decoded["key"])
}

func TestSendWrapsWriterError(t *testing.T) {
	s := &Sender{w: &fakeWriter{err: errors.New("broker down")}}
	err := s.Send(context.Background(), dataplatform.Envelope{Type: "payment.result", Key: "o-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment.result")
}

func TestHeaderCarrierInjectsTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	var hc headerCarrier
	propagation.TraceContext{}.Inject(ctx, &hc)

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", hc.Get("traceparent"))
	assert.Contains(t, hc.Keys(), "traceparent")
}
