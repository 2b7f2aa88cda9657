package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "run")
	assert.False(t, span.SpanContext().IsValid())
	EndSpan(span, nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	shutdown, err := initTracing(cfg, &buf)
	require.NoError(t, err)

	ctx, run := StartSpan(context.Background(), "run", AttrRunID.String("r-1"))
	_, child := StartSpan(ctx, "reconcile", AttrEntity.String("Incidents"))
	EndSpan(child, errors.New("deadlock"))
	EndSpan(run, nil)

	assert.Equal(t, run.SpanContext().TraceID(), child.SpanContext().TraceID())
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"reconcile"`)
	assert.Contains(t, out, "deadlock")
	assert.Contains(t, out, "r-1")

	_, _ = Init(Config{})
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := initTracing(Config{Enabled: true, Exporter: "jaeger"}, nil)
	assert.Error(t, err)
}
