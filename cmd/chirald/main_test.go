package main

import (
	"errors"
	"testing"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

func TestExitCodeForConfigurationError(t *testing.T) {
	err := errs.New(errs.KindConfigurationError, "bad keypair")
	if got := exitCodeFor(err); got != exitKeypairError {
		t.Fatalf("got %d, want %d", got, exitKeypairError)
	}
}

func TestExitCodeForBootstrapFailures(t *testing.T) {
	for _, kind := range []errs.Kind{errs.KindPeerUnreachable, errs.KindTimeout} {
		err := errs.New(kind, "no seeds reachable")
		if got := exitCodeFor(err); got != exitBootstrapFailure {
			t.Fatalf("kind %v: got %d, want %d", kind, got, exitBootstrapFailure)
		}
	}
}

func TestExitCodeForUnknownDefaultsToPortBindFailure(t *testing.T) {
	if got := exitCodeFor(errors.New("plain error")); got != exitPortBindFailure {
		t.Fatalf("got %d, want %d", got, exitPortBindFailure)
	}
}
