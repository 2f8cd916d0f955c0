package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestDetachKeepsValuesAfterCancel(t *testing.T) {
	logger := zap.NewExample()
	ctx, cancel := context.WithCancel(WithTrace(WithLogger(context.Background(), logger), TraceInfo{TraceID: "trace-1"}))
	detached := Detach(ctx)
	cancel()

	if detached.Err() != nil {
		t.Fatalf("detached context should not be cancelled: %v", detached.Err())
	}
	if Logger(detached) != logger {
		t.Fatalf("expected logger to survive detach")
	}
	if TraceID(detached) != "trace-1" {
		t.Fatalf("expected trace id to survive detach")
	}
}

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatalf("expected noop logger")
	}
}
