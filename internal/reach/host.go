package reach

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/config"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/identity"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
)

// BuildHost constructs the libp2p host with NAT/relay/hole-punching
// options driven by cfg, the way the teacher's NewNode builds a host
// but wiring the full reachability surface spec §4.2 requires instead
// of a bare listener.
func BuildHost(id *identity.Identity, cfg *config.Config) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(id.PrivKey),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Network.DHTPort)),
		libp2p.NATPortMap(),
	}
	if cfg.Network.EnableAutoNAT {
		opts = append(opts, libp2p.EnableNATService())
	}
	if cfg.Network.AutoRelay {
		opts = append(opts, libp2p.EnableRelay(), libp2p.EnableHolePunching())
	}
	if cfg.Network.RelayServer {
		opts = append(opts, libp2p.EnableRelayService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("reach: build host: %w", err)
	}
	return h, nil
}

// Reacher is the top-level orchestrator for spec §4.2: it owns the
// libp2p host's NAT/relay lifecycle and keeps the reachability
// Tracker current.
type Reacher struct {
	Host    host.Host
	Tracker *Tracker
	Relay   *RelayManager
	Prober  *Prober

	portMapper *PortMapper
	mdnsSvc    mdns.Service
	cfg        *config.Config
	log        *logrus.Entry

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewReacher wires a Reacher around an already-constructed host,
// given a candidate source for relay selection (normally the overlay
// routing table's current peer set).
func NewReacher(ctx context.Context, h host.Host, cfg *config.Config, candidates func() []peer.AddrInfo) *Reacher {
	ctx, cancel := context.WithCancel(ctx)
	log := logging.For("reach")
	tracker := NewTracker()
	r := &Reacher{
		Host:    h,
		Tracker: tracker,
		Relay:   NewRelayManager(h, tracker, candidates, log),
		Prober:  NewProber(h, log),
		cfg:     cfg,
		log:     log,
		cancel:  cancel,
	}

	if pm, err := NewPortMapper(); err == nil {
		r.portMapper = pm
		if port, err := tcpPortOf(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Network.DHTPort)); err == nil {
			if err := pm.Map(port); err != nil {
				log.WithError(err).Warn("NAT port mapping failed")
			}
		}
	} else {
		log.WithError(err).Debug("no NAT-PMP/UPnP gateway discovered")
	}

	if cfg.Network.DiscoveryTag != "" {
		if svc, err := StartMDNS(ctx, h, cfg.Network.DiscoveryTag, log, func(peer.AddrInfo) {}); err == nil {
			r.mdnsSvc = svc
		} else {
			log.WithError(err).Warn("mDNS discovery failed to start")
		}
	}

	go r.maintainLoop(ctx)
	return r
}

func (r *Reacher) maintainLoop(ctx context.Context) {
	interval := r.cfg.HealthCheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.Tracker.State() != StatePublic {
				if err := r.Relay.EnsureReservation(ctx, int(r.cfg.Network.MaxReservations)); err != nil {
					r.log.WithError(err).Debug("relay reservation attempt did not succeed this round")
				}
			}
			r.Relay.RenewExpiring(ctx)
		}
	}
}

// Close stops background maintenance and releases the NAT port
// mapping. The libp2p host itself is owned by the caller.
func (r *Reacher) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		if r.mdnsSvc != nil {
			_ = r.mdnsSvc.Close()
		}
		if r.portMapper != nil {
			_ = r.portMapper.Unmap()
		}
	})
}
