package reach

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// mdnsNotifee connects to peers discovered on the local network,
// adapted from the teacher's Node.HandlePeerFound (core/network.go).
type mdnsNotifee struct {
	host host.Host
	ctx  context.Context
	log  *logrus.Entry
	onFound func(peer.AddrInfo)
}

var _ mdns.Notifee = (*mdnsNotifee)(nil)

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.WithError(err).WithField("peer", info.ID.String()).Debug("mDNS connect failed")
		return
	}
	n.log.WithField("peer", info.ID.String()).Info("connected via mDNS")
	if n.onFound != nil {
		n.onFound(info)
	}
}

// StartMDNS registers a local-network discovery service under tag,
// dialing and reporting peers it finds via onFound (typically a
// routing-table upsert).
func StartMDNS(ctx context.Context, h host.Host, tag string, log *logrus.Entry, onFound func(peer.AddrInfo)) (mdns.Service, error) {
	notifee := &mdnsNotifee{host: h, ctx: ctx, log: log, onFound: onFound}
	svc := mdns.NewMdnsService(h, tag, notifee)
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}
