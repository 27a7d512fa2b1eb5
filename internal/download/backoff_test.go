package download

import (
	"testing"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

func TestBackoffForFollowsScheduleThenRepeatsLast(t *testing.T) {
	if got := BackoffFor(0); got != DefaultBackoff[0] {
		t.Fatalf("attempt 0: got %v want %v", got, DefaultBackoff[0])
	}
	if got := BackoffFor(2); got != DefaultBackoff[2] {
		t.Fatalf("attempt 2: got %v want %v", got, DefaultBackoff[2])
	}
	last := DefaultBackoff[len(DefaultBackoff)-1]
	if got := BackoffFor(10); got != last {
		t.Fatalf("attempt beyond schedule: got %v want %v", got, last)
	}
}

func TestBackoffForClampsNegative(t *testing.T) {
	if got := BackoffFor(-5); got != DefaultBackoff[0] {
		t.Fatalf("negative attempt: got %v want %v", got, DefaultBackoff[0])
	}
}

func TestNonRetryableOnlyMatchesNotFound(t *testing.T) {
	if !NonRetryable(errs.New(errs.KindNotFound, "missing")) {
		t.Fatal("expected NotFound to be non-retryable")
	}
	if NonRetryable(errs.New(errs.KindPeerUnreachable, "unreachable")) {
		t.Fatal("expected PeerUnreachable to be retryable")
	}
	if NonRetryable(nil) {
		t.Fatal("nil error should be retryable (no error at all)")
	}
}
