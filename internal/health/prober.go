// Package health implements the routing table's periodic liveness
// probe, kept separate from internal/overlay so the router itself
// stays free of timer concerns (spec §4.1/§9 "Bootstrap & health").
package health

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/overlay"
)

// StaleAfter is how long a peer may go unseen before the prober pings
// it (spec §4.1's periodic random walk plus liveness probing of
// entries the walk doesn't otherwise touch).
const StaleAfter = 10 * time.Minute

// DefaultProbeTimeout bounds a single liveness ping.
const DefaultProbeTimeout = 5 * time.Second

// Router is the subset of overlay.Router the prober needs: a routing
// table snapshot and a way to ping and evict entries in it. Satisfied
// by *overlay.Router.
type Router interface {
	Peers() []*overlay.PeerRecord
	Ping(ctx context.Context, pid peer.ID, addrs []string) error
	EvictStale(pid peer.ID)
}

// Prober periodically walks the routing table, pings peers that have
// gone quiet longer than StaleAfter, and evicts the ones that don't
// answer (spec §4.1). Its Start/Stop/closing lifecycle mirrors the
// teacher's Replicator (core/replication.go).
type Prober struct {
	router   Router
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry

	closing chan struct{}
	wg      sync.WaitGroup
}

// NewProber builds a Prober that walks router's table every interval.
func NewProber(router Router, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		router:   router,
		interval: interval,
		timeout:  DefaultProbeTimeout,
		log:      logging.For("health"),
		closing:  make(chan struct{}),
	}
}

// Start launches the prober's background loop. Safe to call once.
func (p *Prober) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop terminates the loop and waits for it to exit.
func (p *Prober) Stop() {
	close(p.closing)
	p.wg.Wait()
}

func (p *Prober) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep pings every peer whose LastSeen is older than StaleAfter,
// evicting those that fail to respond within timeout.
func (p *Prober) sweep() {
	now := time.Now()
	for _, rec := range p.router.Peers() {
		if now.Sub(rec.LastSeen) < StaleAfter {
			continue
		}
		p.probeOne(rec)
	}
}

func (p *Prober) probeOne(rec *overlay.PeerRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.router.Ping(ctx, rec.ID, rec.Addrs); err != nil {
		p.log.WithError(err).WithField("peer", rec.ID.String()).Debug("stale peer unresponsive, evicting")
		p.router.EvictStale(rec.ID)
		return
	}
	p.log.WithField("peer", rec.ID.String()).Trace("stale peer answered liveness probe")
}
