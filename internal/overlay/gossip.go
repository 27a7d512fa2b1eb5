package overlay

import (
	"context"
	"encoding/json"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// providerTopic is the best-effort gossip channel new provider records
// are fanned out on, alongside the authoritative ADD_PROVIDER RPC the
// iterative lookup in StartProviding already issues to the k closest
// peers. Gossip never gates correctness: a peer that misses an
// announcement still finds the record via GetProviders' DHT walk.
const providerTopic = "/chiral/providers/1"

type providerAnnouncement struct {
	Key      string       `json:"key"`
	Provider peerAddrInfo `json:"provider"`
}

// initGossip joins the provider-announcement topic on ps, wiring the
// same pubsub.NewGossipSub pattern the teacher's NewNode uses for its
// own topics. Gossip is strictly additive: a nil *Router.gossipTopic
// (set up failed, or this host has no pubsub) only disables the
// fan-out, never the DHT path.
func (r *Router) initGossip(ctx context.Context) {
	ps, err := pubsub.NewGossipSub(ctx, r.host)
	if err != nil {
		r.log.WithError(err).Debug("pubsub unavailable, provider gossip disabled")
		return
	}
	topic, err := ps.Join(providerTopic)
	if err != nil {
		r.log.WithError(err).Debug("failed to join provider gossip topic")
		return
	}
	sub, err := topic.Subscribe()
	if err != nil {
		r.log.WithError(err).Debug("failed to subscribe to provider gossip topic")
		return
	}
	r.gossip = ps
	r.gossipTopic = topic
	go r.consumeGossip(ctx, sub)
}

// announceProvider publishes a best-effort gossip message for key,
// alongside the ADD_PROVIDER RPC fan-out StartProviding already
// performs. Publish failures are logged, not returned: gossip is a
// latency optimization, not the source of truth.
func (r *Router) announceProvider(ctx context.Context, key string, self peerAddrInfo) {
	if r.gossipTopic == nil {
		return
	}
	data, err := json.Marshal(providerAnnouncement{Key: key, Provider: self})
	if err != nil {
		return
	}
	if err := r.gossipTopic.Publish(ctx, data); err != nil {
		r.log.WithError(err).Debug("provider gossip publish failed")
	}
}

// consumeGossip folds incoming provider announcements into the local
// provider set, the same addProviderLocal path ADD_PROVIDER RPCs use,
// so a GetProviders lookup run immediately after a gossip message
// arrives can already see it without waiting on the RPC fan-out.
func (r *Router) consumeGossip(ctx context.Context, sub *pubsub.Subscription) {
	self := r.host.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		var ann providerAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			continue
		}
		pid, err := peer.Decode(ann.Provider.ID)
		if err != nil || pid == self {
			continue
		}
		r.addProviderLocal(ann.Key, pid, ann.Provider.Addrs)
	}
}
