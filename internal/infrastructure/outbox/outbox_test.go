package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
)

type pingEvent struct{ n int }

func (pingEvent) EventName() string { return "test.ping" }

func newBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(observability.NopLogger(), observability.Nop(), WithHandlerTimeout(time.Second))
	b.Start(context.Background())
	return b
}

func TestFanoutToAllSubscribers(t *testing.T) {
	b := newBus(t)

	var a, c atomic.Int64
	b.Subscribe("test.ping", func(_ context.Context, e domoutbox.Event) error {
		a.Add(int64(e.(pingEvent).n))
		return nil
	})
	b.Subscribe("test.ping", func(context.Context, domoutbox.Event) error {
		c.Add(1)
		return nil
	})

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Publish(context.Background(), pingEvent{n: i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Stop(ctx)

	assert.EqualValues(t, 6, a.Load())
	assert.EqualValues(t, 3, c.Load())
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := newBus(t)

	var calls atomic.Int64
	b.Subscribe("test.ping", func(context.Context, domoutbox.Event) error {
		panic("boom")
	})
	b.Subscribe("test.ping", func(context.Context, domoutbox.Event) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), pingEvent{}))
	require.NoError(t, b.Publish(context.Background(), pingEvent{}))
	b.Stop(context.Background())

	assert.EqualValues(t, 2, calls.Load())
}

func TestPublishAfterStop(t *testing.T) {
	b := newBus(t)
	b.Stop(context.Background())

	assert.ErrorIs(t, b.Publish(context.Background(), pingEvent{}), ErrStopped)
	assert.NoError(t, b.Publish(context.Background(), nil))
}
