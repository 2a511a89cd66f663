package otelcol

import (
	"context"
	"testing"

	"creatorledger/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
)

func TestProvideTraceExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exp, trace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("payout").Start(context.Background(), "apply")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	require.NotEmpty(t, exp.GetSpans())
	require.Equal(t, "apply", exp.GetSpans()[0].Name)
}

func TestServiceResource(t *testing.T) {
	cfg := &config.Config{AppName: "creatorledger", AppEnv: "test"}
	res := serviceResource(cfg)

	var name attribute.Value
	for _, kv := range res.Attributes() {
		if kv.Key == "service.name" {
			name = kv.Value
		}
	}
	require.Equal(t, "creatorledger", name.AsString())
}

func TestRegisterDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, Register(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}
