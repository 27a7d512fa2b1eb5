package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// BucketSize is k, the maximum number of entries held per bucket
// (spec §3, "typically 20").
const BucketSize = 20

// FailThreshold is the number of consecutive unanswered liveness
// probes after which a peer is demoted from the routing table
// (spec §4.1).
const FailThreshold = 3

// PeerRecord is one entry of the routing table: a peer ID, its known
// addresses, and liveness bookkeeping.
type PeerRecord struct {
	ID        peer.ID
	Addrs     []string
	LastSeen  time.Time
	FailCount int
}

// RoutingTable is a bucketed set of PeerRecords ordered by XOR distance
// to the local Peer ID (spec §3). Buckets are indexed by common-prefix
// length with the local ID: bucket i holds peers whose IDs share
// exactly i leading bits with ours.
type RoutingTable struct {
	local   KeyID
	localID peer.ID

	mu      sync.RWMutex
	buckets [257][]*PeerRecord // index 256 holds the (impossible) self-distance-zero case defensively
}

// NewRoutingTable creates a table rooted at localID.
func NewRoutingTable(localID peer.ID) *RoutingTable {
	return &RoutingTable{
		local:   HashPeer(localID),
		localID: localID,
	}
}

func (rt *RoutingTable) bucketIndex(id peer.ID) int {
	return CommonPrefixLen(rt.local, HashPeer(id))
}

// Upsert inserts or refreshes a peer record. New peers are appended;
// existing ones have their LastSeen bumped and FailCount reset and are
// moved to the most-recently-seen end of the bucket. If the bucket is
// already at capacity and the peer is new, the least-recently-seen
// incumbent is returned as evictCandidate so the caller can liveness-probe
// it before replacing it (spec §3: "Eviction prefers least-recently-seen
// peers and is gated by a liveness probe of the incumbent").
func (rt *RoutingTable) Upsert(id peer.ID, addrs []string) (evictCandidate *PeerRecord, inserted bool) {
	if id == rt.localID {
		return nil, false
	}
	idx := rt.bucketIndex(id)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[idx]
	for i, p := range bucket {
		if p.ID == id {
			p.Addrs = addrs
			p.LastSeen = time.Now()
			p.FailCount = 0
			bucket = append(bucket[:i], bucket[i+1:]...)
			bucket = append(bucket, p)
			rt.buckets[idx] = bucket
			return nil, false
		}
	}

	rec := &PeerRecord{ID: id, Addrs: addrs, LastSeen: time.Now()}
	if len(bucket) < BucketSize {
		rt.buckets[idx] = append(bucket, rec)
		return nil, true
	}
	// Bucket full: the oldest entry is the eviction candidate pending a
	// liveness probe performed by the caller (the routing table itself
	// has no notion of "dial").
	return bucket[0], false
}

// MarkFailed increments a peer's consecutive-failure counter and evicts
// it once FailThreshold is reached. Returns true if the peer was
// evicted.
func (rt *RoutingTable) MarkFailed(id peer.ID) bool {
	idx := rt.bucketIndex(id)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	bucket := rt.buckets[idx]
	for i, p := range bucket {
		if p.ID == id {
			p.FailCount++
			if p.FailCount >= FailThreshold {
				rt.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
				return true
			}
			return false
		}
	}
	return false
}

// Remove evicts id unconditionally, e.g. after a confirmed liveness
// probe failure during bucket-full eviction.
func (rt *RoutingTable) Remove(id peer.ID) {
	idx := rt.bucketIndex(id)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	bucket := rt.buckets[idx]
	for i, p := range bucket {
		if p.ID == id {
			rt.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Nearest returns up to count peer records ordered by ascending XOR
// distance to target.
func (rt *RoutingTable) Nearest(target KeyID, count int) []*PeerRecord {
	rt.mu.RLock()
	all := make([]*PeerRecord, 0, BucketSize*8)
	for _, bucket := range rt.buckets {
		all = append(all, bucket...)
	}
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return Less(target, HashPeer(all[i].ID), HashPeer(all[j].ID))
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Size returns the total number of peers tracked across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		n += len(b)
	}
	return n
}

// NonEmptyBucketCount returns how many buckets currently hold at least
// one peer, used to size the refresh random-walk per spec §4.1
// ("random-walk one lookup per non-empty bucket").
func (rt *RoutingTable) NonEmptyBucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		if len(b) > 0 {
			n++
		}
	}
	return n
}

// All returns a snapshot of every peer record in the table.
func (rt *RoutingTable) All() []*PeerRecord {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*PeerRecord, 0, BucketSize*8)
	for _, b := range rt.buckets {
		out = append(out, b...)
	}
	return out
}
