package reputation

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// blacklistEntry is one blacklisted peer, manual or automatic.
type blacklistEntry struct {
	manual    bool
	expiresAt time.Time // zero for manual (permanent) entries
}

// Blacklist tracks manually and automatically excluded peers (spec
// §4.6).
type Blacklist struct {
	mu      sync.RWMutex
	entries map[peer.ID]blacklistEntry
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[peer.ID]blacklistEntry)}
}

// AddManual permanently blacklists id until explicitly removed.
func (b *Blacklist) AddManual(id peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = blacklistEntry{manual: true}
}

// RemoveManual clears a manual entry (automatic entries are not
// affected, matching spec §4.6's distinct lifecycles).
func (b *Blacklist) RemoveManual(id peer.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok && e.manual {
		delete(b.entries, id)
	}
}

// ConsiderAutomatic evaluates the automatic-blacklist rule: score
// below threshold AND at least minBadVerdicts bad verdicts from
// distinct issuers (spec §4.6).
func (b *Blacklist) ConsiderAutomatic(id peer.ID, score float64, scoreThreshold float64, badVerdictIssuers int, minBadVerdicts int, retention time.Duration, now time.Time) {
	if score >= scoreThreshold || badVerdictIssuers < minBadVerdicts {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok && e.manual {
		return // manual entries take precedence and never expire
	}
	b.entries[id] = blacklistEntry{expiresAt: now.Add(retention)}
}

// IsBlacklisted reports whether id is currently blacklisted, expiring
// stale automatic entries as a side effect.
func (b *Blacklist) IsBlacklisted(id peer.ID, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return false
	}
	if e.manual {
		return true
	}
	if now.After(e.expiresAt) {
		delete(b.entries, id)
		return false
	}
	return true
}

// CountBadVerdictIssuers returns the number of distinct issuers with a
// Bad-outcome verdict against target, used to feed ConsiderAutomatic.
func CountBadVerdictIssuers(verdicts []*Verdict) int {
	issuers := make(map[peer.ID]struct{})
	for _, v := range verdicts {
		if v.Outcome == OutcomeBad {
			issuers[v.Issuer] = struct{}{}
		}
	}
	return len(issuers)
}
