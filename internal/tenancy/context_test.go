package tenancy

import (
	"context"
	"testing"
)

func TestWithCallerAndCallerFromContext(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UID: " user-123 ", Email: "a@example.com"})

	got, ok := CallerFromContext(ctx)
	if !ok {
		t.Fatalf("expected caller to be present")
	}
	if got.UID != "user-123" {
		t.Fatalf("expected user-123, got %q", got.UID)
	}
	if CallerUID(ctx) != "user-123" {
		t.Fatalf("expected CallerUID to return user-123")
	}
}

func TestCallerFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected missing caller to return false")
	}
	if CallerUID(ctx) != "" {
		t.Fatalf("expected empty uid for anonymous context")
	}

	ctx = context.WithValue(ctx, callerKey, "user-123")
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected non-Caller value to return false")
	}

	ctx = WithCaller(context.Background(), Caller{UID: "  "})
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected blank uid to return false")
	}
}
