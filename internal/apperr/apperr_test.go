package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRateLimitedMessageRoundsUp(t *testing.T) {
	err := RateLimited(1200 * time.Millisecond)
	if err.RetryAfterMs != 1200 {
		t.Fatalf("expected 1200ms, got %d", err.RetryAfterMs)
	}
	if !strings.Contains(err.Error(), "2s") {
		t.Errorf("expected message to round up to 2s, got %q", err.Error())
	}
	if err.RetryAfter() != 1200*time.Millisecond {
		t.Errorf("unexpected RetryAfter %v", err.RetryAfter())
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", Validation("too long"))
	if !errors.Is(wrapped, ErrValidation) {
		t.Error("expected wrapped validation error to match ErrValidation")
	}
	if errors.Is(wrapped, ErrRateLimited) {
		t.Error("validation error must not match ErrRateLimited")
	}
	if KindOf(wrapped) != KindValidation {
		t.Errorf("expected KindValidation, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("untyped errors should report KindInternal")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:   http.StatusBadRequest,
		KindRateLimited:  http.StatusTooManyRequests,
		KindUnauthorized: http.StatusUnauthorized,
		KindNotFound:     http.StatusNotFound,
		KindExpired:      http.StatusGone,
		KindUpstream:     http.StatusBadGateway,
		KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
