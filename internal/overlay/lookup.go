package overlay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/metrics"
)

// candidate tracks a peer discovered during an iterative lookup: its
// distance to the target, whether it has already been queried, and its
// last known addresses.
type candidate struct {
	id       peer.ID
	addrs    []string
	distance KeyID
	queried  bool
}

// connectHint ensures the host has at least a transient route to pid
// before opening a stream, using whatever addresses the lookup has
// already learned about it.
func (r *Router) connectHint(ctx context.Context, pid peer.ID, addrStrs []string) {
	if r.host.Network().Connectedness(pid) == network.Connected {
		return
	}
	var addrs []multiaddr.Multiaddr
	for _, s := range addrStrs {
		if ma, err := multiaddr.NewMultiaddr(s); err == nil {
			addrs = append(addrs, ma)
		}
	}
	if len(addrs) == 0 {
		return
	}
	_ = r.host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: addrs})
}

func (r *Router) send(ctx context.Context, pid peer.ID, addrs []string, req kadRequest) (*kadResponse, error) {
	r.connectHint(ctx, pid, addrs)
	s, err := r.host.NewStream(ctx, pid, protocol.ID(ProtocolID))
	if err != nil {
		r.table.MarkFailed(pid)
		return nil, errs.Wrapf(errs.KindPeerUnreachable, err, "open stream to %s", pid)
	}
	resp, err := r.roundTrip(s, req)
	if err != nil {
		r.table.MarkFailed(pid)
		return nil, errs.Wrapf(errs.KindTimeout, err, "rpc %s to %s", req.Type, pid)
	}
	r.table.Upsert(pid, addrs)
	return resp, nil
}

// iterativeLookup performs the α-parallel lookup toward target
// described in spec §4.1: at each step, query the α closest unqueried
// peers; merge their FIND_NODE results into the candidate set;
// terminate when the k closest have all been queried.
//
// query is invoked per candidate and must return the peers it learned
// about (FIND_NODE semantics) plus an optional "hit" signal the caller
// uses to short-circuit (e.g. GET_VALUE finding the value).
func (r *Router) iterativeLookup(ctx context.Context, target KeyID, query func(context.Context, *candidate) (peers []peerAddrInfo, hit bool, err error)) ([]*candidate, bool) {
	seen := make(map[peer.ID]*candidate)
	var order []*candidate

	addCandidate := func(id peer.ID, addrs []string) {
		if id == r.host.ID() {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		c := &candidate{id: id, addrs: addrs, distance: HashPeer(id)}
		seen[id] = c
		order = append(order, c)
	}

	for _, rec := range r.table.Nearest(target, BucketSize) {
		addCandidate(rec.ID, rec.Addrs)
	}

	hitFound := false
	for {
		sort.Slice(order, func(i, j int) bool { return Less(target, order[i].distance, order[j].distance) })
		if len(order) > BucketSize {
			order = order[:BucketSize]
			for id := range seen {
				found := false
				for _, c := range order {
					if c.id == id {
						found = true
						break
					}
				}
				if !found {
					delete(seen, id)
				}
			}
		}

		var batch []*candidate
		for _, c := range order {
			if !c.queried {
				batch = append(batch, c)
			}
			if len(batch) >= Alpha {
				break
			}
		}
		if len(batch) == 0 || hitFound {
			break
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		var discovered []peerAddrInfo
		for _, c := range batch {
			c.queried = true
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				stepCtx, cancel := context.WithTimeout(ctx, DefaultLookupStepTimeout)
				defer cancel()
				peers, hit, err := query(stepCtx, c)
				if err != nil {
					return
				}
				mu.Lock()
				discovered = append(discovered, peers...)
				if hit {
					hitFound = true
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		for _, pinfo := range discovered {
			pid, err := peer.Decode(pinfo.ID)
			if err != nil {
				continue
			}
			addCandidate(pid, pinfo.Addrs)
		}
		if ctx.Err() != nil {
			break
		}
	}

	sort.Slice(order, func(i, j int) bool { return Less(target, order[i].distance, order[j].distance) })
	if len(order) > BucketSize {
		order = order[:BucketSize]
	}
	return order, hitFound
}

// PutError reports how many of the k closest peers acknowledged a
// put_record call, so the caller can decide whether to retry (spec
// §4.1).
type PutError struct {
	Acked int
	Of    int
}

func (e *PutError) Error() string {
	return "overlay: put_record quorum not reached"
}

// PutRecord performs an iterative lookup to find the peers closest to
// key, STOREs rec at each, and succeeds once at least quorum of them
// ack (spec §4.1).
func (r *Router) PutRecord(ctx context.Context, key string, rec *Record, quorum Quorum) error {
	target := HashKey(key)
	peers, _ := r.iterativeLookup(ctx, target, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
		resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgFindNode, Target: target.String()})
		if err != nil {
			return nil, false, err
		}
		return resp.Peers, false, nil
	})

	need := quorum.resolve(len(peers))
	acked := 0

	// Always store locally, with no neighborhood check, mirroring the
	// teacher's local-first write pattern in core/storage.go.
	if r.store.Put(rec) {
		acked++
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range peers {
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()
			stepCtx, cancel := context.WithTimeout(ctx, DefaultLookupStepTimeout)
			defer cancel()
			resp, err := r.send(stepCtx, c.id, c.addrs, kadRequest{Type: msgPutValue, Key: key, Record: rec})
			if err != nil || !resp.OK {
				return
			}
			mu.Lock()
			acked++
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	outcome := "ok"
	if acked < need {
		outcome = "quorum_failed"
	}
	metrics.DHTPuts.WithLabelValues(outcome).Inc()

	if acked < need {
		return &PutError{Acked: acked, Of: need}
	}
	return nil
}

// GetRecord performs an iterative lookup, returning the first value
// obtained from at least quorum matching peers, applying the
// highest-timestamp-wins conflict rule across all responses received
// (spec §4.1).
func (r *Router) GetRecord(ctx context.Context, key string, quorum Quorum) (*Record, error) {
	target := HashKey(key)

	var mu sync.Mutex
	var best *Record
	matches := 0
	needed := quorum.resolve(BucketSize)

	if rec, ok := r.store.Get(key); ok {
		best = rec
		matches++
	}

	r.iterativeLookup(ctx, target, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
		resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgGetValue, Key: key})
		if err != nil {
			return nil, false, err
		}
		done := false
		if resp.Record != nil {
			mu.Lock()
			if best == nil {
				best = resp.Record
			} else {
				best = resolveConflict(best, resp.Record)
			}
			matches++
			done = matches >= needed
			mu.Unlock()
		}
		return resp.Peers, done, nil
	})

	outcome := "ok"
	if best == nil {
		outcome = "not_found"
	} else if matches < needed {
		outcome = "quorum_failed"
	}
	metrics.DHTGets.WithLabelValues(outcome).Inc()

	if best == nil {
		return nil, errs.New(errs.KindNotFound, "key "+key+" not found")
	}
	if matches < needed {
		return nil, errs.New(errs.KindNotFound, "key "+key+" found on fewer peers than the read quorum")
	}
	if err := best.Verify(); err != nil {
		return nil, err
	}
	return best, nil
}

// StartProviding announces the local node as a provider for key by
// finding the k closest peers and issuing ADD_PROVIDER to each.
func (r *Router) StartProviding(ctx context.Context, key string) error {
	target := HashKey(key)
	self := peerAddrInfo{ID: r.host.ID().String(), Addrs: advertisableAddrStrings(r.host)}
	r.addProviderLocal(key, r.host.ID(), self.Addrs)
	r.announceProvider(ctx, key, self)

	peers, _ := r.iterativeLookup(ctx, target, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
		resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgFindNode, Target: target.String()})
		if err != nil {
			return nil, false, err
		}
		return resp.Peers, false, nil
	})

	var wg sync.WaitGroup
	for _, c := range peers {
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()
			stepCtx, cancel := context.WithTimeout(ctx, DefaultLookupStepTimeout)
			defer cancel()
			_, _ = r.send(stepCtx, c.id, c.addrs, kadRequest{Type: msgAddProvider, Key: key, Provider: &self})
		}(c)
	}
	wg.Wait()
	return nil
}

// GetProviders returns up to limit provider peer IDs for key, merging
// the local provider set with what the k-closest peers report.
func (r *Router) GetProviders(ctx context.Context, key string, limit int) ([]peer.ID, error) {
	target := HashKey(key)
	out := make(map[peer.ID]struct{})
	for _, p := range r.localProviders(key, limit) {
		if pid, err := peer.Decode(p.ID); err == nil {
			out[pid] = struct{}{}
		}
	}

	r.iterativeLookup(ctx, target, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
		resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgGetProviders, Key: key, Limit: limit})
		if err != nil {
			return nil, false, err
		}
		for _, p := range resp.Providers {
			if pid, err := peer.Decode(p.ID); err == nil {
				out[pid] = struct{}{}
			}
		}
		return resp.Peers, len(out) >= limit, nil
	})

	ids := make([]peer.ID, 0, len(out))
	for pid := range out {
		ids = append(ids, pid)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// Bootstrap dials the given seed multiaddrs, performs a self-lookup,
// then one random-walk lookup per non-empty bucket (spec §4.1).
func (r *Router) Bootstrap(ctx context.Context, seeds []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialErrs []error
	for _, addr := range seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			dialErrs = append(dialErrs, err)
			continue
		}
		if err := r.host.Connect(ctx, *info); err != nil {
			dialErrs = append(dialErrs, err)
			continue
		}
		addrStrs := make([]string, len(info.Addrs))
		for i, a := range info.Addrs {
			addrStrs[i] = a.String()
		}
		r.table.Upsert(info.ID, addrStrs)
	}
	if len(seeds) > 0 && len(dialErrs) == len(seeds) {
		return errs.Wrapf(errs.KindPeerUnreachable, dialErrs[0], "bootstrap: all %d seeds unreachable", len(seeds))
	}

	r.iterativeLookup(ctx, r.selfKey, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
		resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgFindNode, Target: r.selfKey.String()})
		if err != nil {
			return nil, false, err
		}
		return resp.Peers, false, nil
	})

	walks := r.table.NonEmptyBucketCount()
	for i := 0; i < walks; i++ {
		randTarget := randomKeyID()
		r.iterativeLookup(ctx, randTarget, func(ctx context.Context, c *candidate) ([]peerAddrInfo, bool, error) {
			resp, err := r.send(ctx, c.id, c.addrs, kadRequest{Type: msgFindNode, Target: randTarget.String()})
			if err != nil {
				return nil, false, err
			}
			return resp.Peers, false, nil
		})
	}
	return nil
}
