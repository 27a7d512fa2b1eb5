package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
)

// Alpha is the parallelism of iterative lookups (spec §4.1).
const Alpha = 3

// DefaultLookupStepTimeout bounds a single RPC within a lookup step.
const DefaultLookupStepTimeout = 5 * time.Second

type providerEntry struct {
	addrs   []string
	addedAt time.Time
}

// Router is the Kademlia overlay node: routing table, record store,
// provider store, and a libp2p stream handler for the Kademlia RPCs,
// wired the way the teacher's core.NewNode wires a host plus pubsub —
// here the stream protocol replaces gossip as the RPC transport.
type Router struct {
	host  host.Host
	table *RoutingTable
	store *RecordStore

	provMu    sync.RWMutex
	providers map[string]map[peer.ID]providerEntry // record key -> provider set

	gossip      *pubsub.PubSub
	gossipTopic *pubsub.Topic

	log *logrus.Entry

	selfKey KeyID

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewRouter wraps an already-constructed libp2p host (construction,
// NAT/relay options, and mDNS belong to internal/reach) with Kademlia
// behavior.
func NewRouter(ctx context.Context, h host.Host) *Router {
	routerCtx, cancel := context.WithCancel(ctx)
	r := &Router{
		host:      h,
		table:     NewRoutingTable(h.ID()),
		store:     NewRecordStore(0),
		providers: make(map[string]map[peer.ID]providerEntry),
		log:       logging.For("overlay"),
		selfKey:   HashPeer(h.ID()),
		cancel:    cancel,
	}
	h.SetStreamHandler(ProtocolID, r.handleStream)
	r.initGossip(routerCtx)
	return r
}

// Close releases the router's background resources. The libp2p host
// itself is owned by the caller (internal/reach) and is not closed
// here.
func (r *Router) Close() {
	r.closeOnce.Do(func() { r.cancel() })
}

// LocalID returns the router's own peer ID.
func (r *Router) LocalID() peer.ID { return r.host.ID() }

// KnownPeerCount reports the routing table's current size.
func (r *Router) KnownPeerCount() int { return r.table.Size() }

// Peers returns a snapshot of every routing table entry, for callers
// such as internal/health that walk the table independently of any
// particular lookup.
func (r *Router) Peers() []*PeerRecord { return r.table.All() }

// Ping sends a liveness probe (spec §4.1) to pid. A successful reply
// refreshes the peer's LastSeen entry and clears its failure counter;
// a failure increments the counter and evicts the peer from the
// routing table once FailThreshold consecutive probes have failed —
// both handled by the same send/MarkFailed/Upsert path every other
// RPC in this package uses.
func (r *Router) Ping(ctx context.Context, pid peer.ID, addrs []string) error {
	_, err := r.send(ctx, pid, addrs, kadRequest{Type: msgPing})
	return err
}

// EvictStale unconditionally removes pid from the routing table,
// e.g. after a liveness probe fails outright rather than merely
// incrementing the failure counter (spec §4.1's "evicts unresponsive
// ones").
func (r *Router) EvictStale(pid peer.ID) { r.table.Remove(pid) }

// handleStream dispatches an inbound Kademlia RPC and replies in kind.
func (r *Router) handleStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()
	r.table.Upsert(remote, nil)

	var req kadRequest
	if err := readFramed(s, &req); err != nil {
		r.log.WithError(err).Debug("malformed inbound RPC")
		return
	}

	resp := r.dispatch(remote, req)
	if err := writeFramed(s, resp); err != nil {
		r.log.WithError(err).Debug("failed to write RPC response")
	}
}

func (r *Router) dispatch(from peer.ID, req kadRequest) kadResponse {
	switch req.Type {
	case msgPing:
		return kadResponse{OK: true}

	case msgFindNode:
		target, err := decodeHex32(req.Target)
		if err != nil {
			return errResp(err)
		}
		return kadResponse{OK: true, Peers: r.localNearest(target, BucketSize)}

	case msgGetValue:
		rec, ok := r.store.Get(req.Key)
		if !ok {
			return kadResponse{OK: false, Error: errs.KindNotFound.String(), Peers: r.localNearest(HashKey(req.Key), BucketSize)}
		}
		return kadResponse{OK: true, Record: rec}

	case msgPutValue:
		if req.Record == nil {
			return errResp(errs.New(errs.KindConfigurationError, "put_value missing record"))
		}
		if err := req.Record.Verify(); err != nil {
			return errResp(err)
		}
		if req.Record.Key != req.Key {
			return errResp(errs.New(errs.KindConfigurationError, "record key mismatch"))
		}
		if !r.store.Put(req.Record) {
			return errResp(errs.New(errs.KindQuotaExceeded, "local store at capacity"))
		}
		return kadResponse{OK: true}

	case msgAddProvider:
		if req.Provider == nil {
			return errResp(errs.New(errs.KindConfigurationError, "add_provider missing provider"))
		}
		pid, err := peer.Decode(req.Provider.ID)
		if err != nil {
			return errResp(err)
		}
		r.addProviderLocal(req.Key, pid, req.Provider.Addrs)
		return kadResponse{OK: true}

	case msgGetProviders:
		limit := req.Limit
		if limit <= 0 {
			limit = BucketSize
		}
		return kadResponse{OK: true, Providers: r.localProviders(req.Key, limit), Peers: r.localNearest(HashKey(req.Key), BucketSize)}

	default:
		return errResp(fmt.Errorf("unknown rpc type %q", req.Type))
	}
}

func errResp(err error) kadResponse {
	return kadResponse{OK: false, Error: err.Error()}
}

func (r *Router) localNearest(target KeyID, count int) []peerAddrInfo {
	recs := r.table.Nearest(target, count)
	out := make([]peerAddrInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, peerAddrInfo{ID: rec.ID.String(), Addrs: rec.Addrs})
	}
	return out
}

func (r *Router) addProviderLocal(key string, pid peer.ID, addrs []string) {
	r.provMu.Lock()
	defer r.provMu.Unlock()
	set, ok := r.providers[key]
	if !ok {
		set = make(map[peer.ID]providerEntry)
		r.providers[key] = set
	}
	set[pid] = providerEntry{addrs: addrs, addedAt: time.Now()}
}

func (r *Router) localProviders(key string, limit int) []peerAddrInfo {
	r.provMu.RLock()
	defer r.provMu.RUnlock()
	set := r.providers[key]
	out := make([]peerAddrInfo, 0, len(set))
	for pid, ent := range set {
		out = append(out, peerAddrInfo{ID: pid.String(), Addrs: ent.addrs})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// metricOutcome is a tiny helper so DHT counters consistently label
// success/failure/timeout without scattering string literals.
func metricOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errs.Is(err, errs.KindTimeout) {
		return "timeout"
	}
	if errs.Is(err, errs.KindNotFound) {
		return "not_found"
	}
	return "error"
}
