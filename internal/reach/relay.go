package reach

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	circuitclient "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// renewSkew is how long before a reservation's expiry the manager
// attempts to renew it.
const renewSkew = 2 * time.Minute

// reservation tracks one active relay slot.
type reservation struct {
	relay      peer.AddrInfo
	circuit    multiaddr.Multiaddr
	expiration time.Time
}

// RelayManager selects candidate relays from a peer source, reserves
// a slot, builds the resulting circuit address, and renews reservations
// before they expire (spec §4.2).
type RelayManager struct {
	host       host.Host
	tracker    *Tracker
	candidates func() []peer.AddrInfo
	log        *logrus.Entry

	mu   sync.Mutex
	live map[peer.ID]*reservation
	bad  map[peer.ID]time.Time // demoted candidates; never cleared, so later EnsureReservation calls always skip them
}

// NewRelayManager builds a manager that draws relay candidates from
// candidates (typically the overlay routing table's known peers).
func NewRelayManager(h host.Host, tracker *Tracker, candidates func() []peer.AddrInfo, log *logrus.Entry) *RelayManager {
	return &RelayManager{
		host:       h,
		tracker:    tracker,
		candidates: candidates,
		log:        log,
		live:       make(map[peer.ID]*reservation),
		bad:        make(map[peer.ID]time.Time),
	}
}

// CircuitAddrs returns the currently advertisable circuit multiaddrs.
func (m *RelayManager) CircuitAddrs() []multiaddr.Multiaddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]multiaddr.Multiaddr, 0, len(m.live))
	for _, r := range m.live {
		out = append(out, r.circuit)
	}
	return out
}

// EnsureReservation reserves a slot on one plausible candidate relay
// if the node currently holds fewer than maxReservations, and reports
// the resulting state transition via tracker.
func (m *RelayManager) EnsureReservation(ctx context.Context, maxReservations int) error {
	m.mu.Lock()
	have := len(m.live)
	m.mu.Unlock()
	if have >= maxReservations {
		return nil
	}

	for _, cand := range m.candidates() {
		if cand.ID == m.host.ID() {
			continue
		}
		m.mu.Lock()
		_, already := m.live[cand.ID]
		_, cooling := m.bad[cand.ID]
		m.mu.Unlock()
		if already || cooling {
			continue
		}

		plausibleAddrs := FilterPlausible(cand.Addrs)
		if len(plausibleAddrs) == 0 {
			continue
		}
		cand.Addrs = plausibleAddrs

		rsv, err := circuitclient.Reserve(ctx, m.host, cand)
		if err != nil {
			m.demote(cand.ID)
			continue
		}

		circuit, err := buildCircuitAddr(plausibleAddrs[0], cand.ID, m.host.ID())
		if err != nil {
			m.demote(cand.ID)
			continue
		}

		m.mu.Lock()
		m.live[cand.ID] = &reservation{relay: cand, circuit: circuit, expiration: rsv.Expiration}
		m.mu.Unlock()
		m.tracker.ObserveReservation(true)
		m.log.WithField("relay", cand.ID.String()).Info("relay reservation secured")
		return nil
	}

	if have == 0 {
		m.tracker.ObserveReservation(false)
		return errs.New(errs.KindRelayReservationFailed, "no plausible relay candidate accepted a reservation")
	}
	return nil
}

// RenewExpiring re-reserves any slot within renewSkew of expiry,
// demoting the relay and dropping the circuit address on failure.
func (m *RelayManager) RenewExpiring(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	var stale []peer.AddrInfo
	for id, r := range m.live {
		if r.expiration.Sub(now) <= renewSkew {
			stale = append(stale, r.relay)
			_ = id
		}
	}
	m.mu.Unlock()

	for _, cand := range stale {
		rsv, err := circuitclient.Reserve(ctx, m.host, cand)
		if err != nil {
			m.mu.Lock()
			delete(m.live, cand.ID)
			m.mu.Unlock()
			m.demote(cand.ID)
			m.tracker.ObserveReservationLost()
			continue
		}
		m.mu.Lock()
		if r, ok := m.live[cand.ID]; ok {
			r.expiration = rsv.Expiration
		}
		m.mu.Unlock()
	}
}

func (m *RelayManager) demote(id peer.ID) {
	m.mu.Lock()
	m.bad[id] = time.Now()
	m.mu.Unlock()
}

// buildCircuitAddr constructs {relay_addr}/p2p/{relay_id}/p2p-circuit/p2p/{self_id}
// per spec §4.2.
func buildCircuitAddr(relayAddr multiaddr.Multiaddr, relayID, selfID peer.ID) (multiaddr.Multiaddr, error) {
	full := fmt.Sprintf("%s/p2p/%s/p2p-circuit/p2p/%s", relayAddr.String(), relayID.String(), selfID.String())
	return multiaddr.NewMultiaddr(full)
}
