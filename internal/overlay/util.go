package overlay

import (
	"crypto/rand"

	"github.com/libp2p/go-libp2p/core/host"
)

// randomKeyID draws a uniformly random point in the key space, used to
// pick refresh targets for the per-bucket random walk in Bootstrap.
func randomKeyID() KeyID {
	var k KeyID
	_, _ = rand.Read(k[:])
	return k
}

// advertisableAddrStrings renders a host's listen addresses as the
// string form carried in wire messages.
func advertisableAddrStrings(h host.Host) []string {
	addrs := h.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
