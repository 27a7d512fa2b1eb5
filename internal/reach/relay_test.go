package reach

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestBuildCircuitAddrShape(t *testing.T) {
	relayAddr := ma(t, "/ip4/1.2.3.4/tcp/4001")
	relayID, err := peer.Decode("QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N")
	if err != nil {
		t.Fatalf("decode relay id: %v", err)
	}
	selfID, err := peer.Decode("QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	if err != nil {
		t.Fatalf("decode self id: %v", err)
	}

	circuit, err := buildCircuitAddr(relayAddr, relayID, selfID)
	if err != nil {
		t.Fatalf("buildCircuitAddr: %v", err)
	}
	want := "/ip4/1.2.3.4/tcp/4001/p2p/" + relayID.String() + "/p2p-circuit/p2p/" + selfID.String()
	if circuit.String() != want {
		t.Fatalf("got %q, want %q", circuit.String(), want)
	}
}

func TestCircuitAddrsEmptyForFreshManager(t *testing.T) {
	tracker := NewTracker()
	m := NewRelayManager(nil, tracker, func() []peer.AddrInfo { return nil }, nil)
	if addrs := m.CircuitAddrs(); len(addrs) != 0 {
		t.Fatalf("expected no circuit addrs before any reservation, got %v", addrs)
	}
}
