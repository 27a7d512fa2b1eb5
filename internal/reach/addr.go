// Package reach classifies the local node's public reachability and
// manages NAT traversal: port mapping, relay reservation, and circuit
// address advertisement (spec §4.2).
package reach

import (
	"net"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

// Plausible reports whether ma is safe to advertise externally: a
// circuit-hop address is always plausible (it resolves through a
// relay regardless of its terminal IP); otherwise the terminal IP must
// be non-loopback and non-private (spec §4.2 address-plausibility
// filter).
func Plausible(ma multiaddr.Multiaddr) bool {
	if strings.Contains(ma.String(), "/p2p-circuit") {
		return true
	}
	ip := terminalIP(ma)
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() && !ip.IsLinkLocalUnicast()
}

// FilterPlausible returns the subset of addrs that pass Plausible, in
// the same order.
func FilterPlausible(addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if Plausible(a) {
			out = append(out, a)
		}
	}
	return out
}

func terminalIP(ma multiaddr.Multiaddr) net.IP {
	if v, err := ma.ValueForProtocol(multiaddr.P_IP4); err == nil {
		return net.ParseIP(v)
	}
	if v, err := ma.ValueForProtocol(multiaddr.P_IP6); err == nil {
		return net.ParseIP(v)
	}
	return nil
}
