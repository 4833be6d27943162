package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderDisabled(t *testing.T) {
	tp, shutdown, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, tp)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, shutdown, err := InitTracerProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "sessiond-test",
		SampleRatio: 1,
	}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	require.NoError(t, shutdown(context.Background()))
}
