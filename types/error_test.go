package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrRemoteUnavailable, "peer failed").
		WithCause(root).
		WithHTTPStatus(503).
		WithRetryable(true).
		WithMember("site-b")

	if GetErrorCode(err) != ErrRemoteUnavailable {
		t.Fatalf("expected code %s, got %s", ErrRemoteUnavailable, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedPredicates(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("compute: %w", NewCapacityExhaustedError("quota exceeded"))
	if !IsCapacityExhausted(wrapped) {
		t.Fatalf("expected capacity exhausted through wrapping")
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("capacity exhaustion must be retryable")
	}
	if IsNotFound(wrapped) {
		t.Fatalf("unexpected not found")
	}
	if !IsNotFound(NewNotFoundError("request", "r1")) {
		t.Fatalf("expected not found")
	}
	if IsRetryable(NewProvisioningError("boom", nil)) {
		t.Fatalf("provisioning errors are terminal")
	}
}

func TestError_OwnershipLooksLikeAuth(t *testing.T) {
	t.Parallel()

	if NewOwnershipError().Message != NewAuthError().Message {
		t.Fatalf("ownership and auth errors must not be distinguishable by message")
	}
}
