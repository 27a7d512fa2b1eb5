package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewErrorFormatsWithoutCause(t *testing.T) {
	err := New(KindNotFound, "manifest missing")
	if got, want := err.Error(), "NotFound: manifest missing"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWrapfErrorFormatsWithCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrapf(KindIntegrityMismatch, cause, "chunk %d", 7)
	want := "IntegrityMismatch: chunk 7: disk full"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Wrapf's Error to unwrap to its cause")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapAddsMessagePrefix(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "loading config")
	if got, want := err.Error(), "loading config: boom"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap's result to unwrap to cause")
	}
}

func TestKindOfFindsWrappedKind(t *testing.T) {
	base := New(KindQuotaExceeded, "too many requests")
	wrapped := fmt.Errorf("handler: %w", base)
	if got := KindOf(wrapped); got != KindQuotaExceeded {
		t.Fatalf("got %v, want %v", got, KindQuotaExceeded)
	}
}

func TestKindOfDefaultsToUnknownForPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("got %v, want %v", got, KindUnknown)
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindBlacklisted, "peer banned")
	if !Is(err, KindBlacklisted) {
		t.Fatal("expected Is to match the error's own kind")
	}
	if Is(err, KindTimeout) {
		t.Fatal("expected Is to reject a different kind")
	}
}

func TestSentinelsMatchWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected errors.Is to match the ErrNotFound sentinel through a wrap")
	}
}

func TestKindStringCoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindNotFound, KindTimeout, KindSignatureInvalid, KindIntegrityMismatch,
		KindQuotaExceeded, KindPeerUnreachable, KindRelayReservationFailed,
		KindBlacklisted, KindCancelled, KindConfigurationError, KindValidation,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "Unknown" {
			t.Fatalf("Kind %d stringified to %q", k, s)
		}
		if seen[s] {
			t.Fatalf("duplicate Kind string %q", s)
		}
		seen[s] = true
	}
	if got := KindUnknown.String(); got != "Unknown" {
		t.Fatalf("got %q, want Unknown", got)
	}
}
