package reputation

import (
	"math"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// TrustLevel buckets a score for UI categorization and peer-selection
// floors (spec §4.6).
type TrustLevel string

const (
	TrustTrusted TrustLevel = "trusted"
	TrustHigh    TrustLevel = "high"
	TrustMedium  TrustLevel = "medium"
	TrustLow     TrustLevel = "low"
	TrustUnknown TrustLevel = "unknown"
)

// LevelOf buckets score per spec §4.6's thresholds.
func LevelOf(score float64) TrustLevel {
	switch {
	case score >= 0.8:
		return TrustTrusted
	case score >= 0.6:
		return TrustHigh
	case score >= 0.4:
		return TrustMedium
	case score >= 0.2:
		return TrustLow
	default:
		return TrustUnknown
	}
}

// scoreCacheTTL is the default per-peer score cache lifetime.
const scoreCacheTTL = 10 * time.Minute

// DefaultHalfLifeDays is used when time decay is enabled without an
// explicit half-life.
const DefaultHalfLifeDays = 14.0

type cachedScore struct {
	score     float64
	computed  time.Time
}

// Scorer computes and caches trust scores from verdict sets.
type Scorer struct {
	DecayEnabled bool
	HalfLifeDays float64

	mu    sync.Mutex
	cache map[peer.ID]cachedScore
}

// NewScorer builds a Scorer; decay is disabled by default, matching
// the simplest conformant reading of spec §4.6 ("if time decay is
// enabled").
func NewScorer() *Scorer {
	return &Scorer{HalfLifeDays: DefaultHalfLifeDays, cache: make(map[peer.ID]cachedScore)}
}

// Score returns target's cached score if fresh, else recomputes it
// from verdicts (already TTL-filtered and deduplicated by the caller)
// and caches the result.
func (s *Scorer) Score(target peer.ID, verdicts []*Verdict, now time.Time) float64 {
	s.mu.Lock()
	if c, ok := s.cache[target]; ok && now.Sub(c.computed) < scoreCacheTTL {
		s.mu.Unlock()
		return c.score
	}
	s.mu.Unlock()

	score := s.compute(verdicts, now)
	s.mu.Lock()
	s.cache[target] = cachedScore{score: score, computed: now}
	s.mu.Unlock()
	return score
}

// Invalidate drops a cached score, called on new verdict publication
// (spec §4.6).
func (s *Scorer) Invalidate(target peer.ID) {
	s.mu.Lock()
	delete(s.cache, target)
	s.mu.Unlock()
}

func (s *Scorer) compute(verdicts []*Verdict, now time.Time) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	var weightedSum, weightTotal float64
	for _, v := range verdicts {
		w := 1.0
		if s.DecayEnabled {
			ageDays := now.Sub(v.IssuedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			halfLife := s.HalfLifeDays
			if halfLife <= 0 {
				halfLife = DefaultHalfLifeDays
			}
			w = math.Pow(0.5, ageDays/halfLife)
		}
		weightedSum += outcomeValue(v.Outcome) * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// FilterFresh returns the verdicts in verdicts whose age is within ttl
// of now, per spec §4.6's "after TTL filtering". A verdict issued
// exactly ttl ago (issued_at == now - ttl) is stale and excluded.
func FilterFresh(verdicts []*Verdict, ttl time.Duration, now time.Time) []*Verdict {
	out := make([]*Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		if now.Sub(v.IssuedAt) < ttl {
			out = append(out, v)
		}
	}
	return out
}
