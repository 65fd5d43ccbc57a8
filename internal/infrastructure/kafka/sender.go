package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Zhima-Mochi/minishop-saga/internal/application/dataplatform"
)

const (
	headerEventType    = "x-event-type"
	headerEventVersion = "x-event-version"
	eventVersion       = "1"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sender publishes data platform envelopes to one topic, keyed by order id so
// every record of an order lands on the same partition.
type Sender struct {
	w messageWriter
}

func NewSender(brokers []string, topic string, writeTimeout time.Duration) *Sender {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Sender{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: writeTimeout,
	}}
}

func (s *Sender) Send(ctx context.Context, env dataplatform.Envelope) error {
	msg, err := encode(ctx, env)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", env.Type, err)
	}
	return nil
}

func (s *Sender) Close() error { return s.w.Close() }

func encode(ctx context.Context, env dataplatform.Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal %s: %w", env.Type, err)
	}
	headers := headerCarrier{
		{Key: headerEventType, Value: []byte(env.Type)},
		{Key: headerEventVersion, Value: []byte(eventVersion)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	return kafka.Message{
		Key:     []byte(env.Key),
		Value:   value,
		Time:    env.OccurredAt,
		Headers: headers,
	}, nil
}

// headerCarrier lets the otel propagator write trace context into Kafka
// message headers.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
