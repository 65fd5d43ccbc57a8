package oteltrace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstallProviderRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	shutdown, err := InstallProvider(ProviderConfig{ServiceName: "saga-test", SampleRatio: 1},
		sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := New("test").Start(context.Background(), "UC.PlaceOrder", attribute.String("use_case", "place_order"))
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	_ = ctx

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "UC.PlaceOrder", ended[0].Name())
}
