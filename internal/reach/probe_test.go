package reach

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
)

func addrInfoOf(h host.Host) peer.AddrInfo {
	return peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()}
}

func TestAskDialbackSucceedsWhenTargetCanDialBack(t *testing.T) {
	hostA, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New A: %v", err)
	}
	defer hostA.Close()
	hostB, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New B: %v", err)
	}
	defer hostB.Close()

	log := logging.For("reach-test")
	NewProber(hostA, log)
	proberB := NewProber(hostB, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hostB.Connect(ctx, addrInfoOf(hostA)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ourAddrs := make([]string, 0, len(hostB.Addrs()))
	for _, a := range hostB.Addrs() {
		ourAddrs = append(ourAddrs, a.String()+"/p2p/"+hostB.ID().String())
	}

	reached, err := proberB.AskDialback(ctx, hostA.ID(), ourAddrs)
	if err != nil {
		t.Fatalf("AskDialback: %v", err)
	}
	if !reached {
		t.Fatal("expected the dial-back to succeed between two loopback hosts")
	}
}
