package download

import (
	"time"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// DefaultBackoff is the per-peer exponential backoff schedule that
// BackoffFor walks (spec §4.4). The coordinator does not wait on it: a
// failed chunk is offered for reassignment on the next scheduling pass
// without delay.
var DefaultBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// BackoffFor returns the delay before attempt (0-indexed); attempts
// beyond the schedule repeat its last entry.
func BackoffFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(DefaultBackoff) {
		return DefaultBackoff[len(DefaultBackoff)-1]
	}
	return DefaultBackoff[attempt]
}

// NonRetryable reports whether err is a 404-equivalent against the
// same source and should not be retried there (spec §4.4).
func NonRetryable(err error) bool {
	return errs.Is(err, errs.KindNotFound)
}

// Timeout bounds, per spec §4.4.
const (
	DefaultBlockExchangeTimeout = 10 * time.Second
	DefaultHTTPConnectTimeout   = 10 * time.Second
	DefaultHTTPReadTimeout      = 30 * time.Second
	// DefaultStallWindow is a no-bytes window for chunk transfers. The
	// coordinator does not use it and has no stall detection: a
	// block-exchange fetch is bounded only by DefaultBlockExchangeTimeout.
	DefaultStallWindow = 15 * time.Second
)
