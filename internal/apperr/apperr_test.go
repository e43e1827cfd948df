package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/raysh454/ztguard/internal/apperr"
)

func TestError_IsKind(t *testing.T) {
	err := apperr.New(apperr.NotFound, "threat.Get", "record %s", "abc")
	if !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected errors.Is NotFound, got %v", err)
	}
	if errors.Is(err, apperr.Conflict) {
		t.Fatalf("did not expect Conflict match")
	}
	if err.Error() != "threat.Get: record abc" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("scoring: %w", apperr.Wrap(apperr.ScoringUnavailable, "remote", cause))

	if !errors.Is(err, apperr.ScoringUnavailable) {
		t.Fatalf("expected ScoringUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if got := apperr.KindOf(err); got != apperr.ScoringUnavailable {
		t.Fatalf("KindOf = %q", got)
	}
	if apperr.Wrap(apperr.Conflict, "x", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := apperr.KindOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
	if got := apperr.KindOf(apperr.InvalidURL); got != apperr.InvalidURL {
		t.Fatalf("expected bare kind to classify, got %q", got)
	}
}
