package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := AccessID(ctx); ok {
		t.Fatalf("expected no access id on empty context")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithAccessID(ctx, "token-1")
	if got, ok := AccessID(ctx); !ok || got != "token-1" {
		t.Fatalf("AccessID mismatch: %v %v", got, ok)
	}

	ctx = WithMemberID(ctx, "site-b")
	if got, ok := MemberID(ctx); !ok || got != "site-b" {
		t.Fatalf("MemberID mismatch: %v %v", got, ok)
	}
}
