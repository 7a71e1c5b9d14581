package otelinit

import (
	"context"
	"testing"
)

func TestInitMetricsNoExporter(t *testing.T) {
	ctx := context.Background()
	shutdown := InitMetrics(ctx, "test-service")
	// Should return a working shutdown func even when no collector is
	// reachable.
	_ = shutdown(ctx)
}

func TestInitTracerNoExporter(t *testing.T) {
	ctx := context.Background()
	shutdown := InitTracer(ctx, "test-service")
	spanCtx, end := WithSpan(ctx, "test-span")
	if spanCtx == nil {
		t.Fatalf("expected non-nil context from WithSpan")
	}
	end()
	_ = shutdown(ctx)
}
