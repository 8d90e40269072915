package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := TraceID(ctx); ok {
		t.Fatalf("expected no trace id on empty context")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithLLMModel(ctx, "gpt-4o")
	if got, ok := LLMModel(ctx); !ok || got != "gpt-4o" {
		t.Fatalf("LLMModel mismatch: %v %v", got, ok)
	}

	ctx = WithLLMModel(ctx, "")
	if _, ok := LLMModel(ctx); ok {
		t.Fatalf("empty model should not be reported")
	}
}
