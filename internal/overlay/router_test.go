package overlay

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestHost(t *testing.T) (host.Host, crypto.PrivKey) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	h, err := libp2p.New(libp2p.Identity(priv), libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, priv
}

func TestRouterPutRecordThenGetRecordLocalOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, priv := newTestHost(t)
	id := h.ID()

	r := NewRouter(ctx, h)
	defer r.Close()

	rec := &Record{Key: "meta:file1", Value: []byte("manifest summary"), Publisher: id, Timestamp: time.Now()}
	if err := rec.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := r.PutRecord(ctx, "meta:file1", rec, QuorumOne); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := r.GetRecord(ctx, "meta:file1", QuorumOne)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(got.Value) != "manifest summary" {
		t.Fatalf("got %q, want %q", got.Value, "manifest summary")
	}
}

func TestRouterGetRecordMissingReturnsNotFound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := newTestHost(t)
	r := NewRouter(ctx, h)
	defer r.Close()

	if _, err := r.GetRecord(ctx, "meta:missing", QuorumOne); err == nil {
		t.Fatal("expected GetRecord on an unknown key to fail")
	}
}

func TestRouterPeersEmptyForFreshRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := newTestHost(t)
	r := NewRouter(ctx, h)
	defer r.Close()

	if peers := r.Peers(); len(peers) != 0 {
		t.Fatalf("expected no known peers for a fresh router, got %v", peers)
	}
}

func TestRouterPingUnreachablePeerFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := newTestHost(t)
	r := NewRouter(ctx, h)
	defer r.Close()

	unreachable := peer.ID("never-registered-peer")
	pingCtx, pingCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer pingCancel()
	if err := r.Ping(pingCtx, unreachable, nil); err == nil {
		t.Fatal("expected Ping to an unknown, addressless peer to fail")
	}
}

func TestRouterEvictStaleRemovesPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, _ := newTestHost(t)
	r := NewRouter(ctx, h)
	defer r.Close()

	other := peer.ID("some-peer")
	r.table.Upsert(other, nil)
	if r.KnownPeerCount() != 1 {
		t.Fatal("expected the manually upserted peer to be tracked")
	}
	r.EvictStale(other)
	if r.KnownPeerCount() != 0 {
		t.Fatal("expected EvictStale to remove the peer")
	}
}

func TestRouterBootstrapTwoHosts(t *testing.T) {
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	hostA, _ := newTestHost(t)
	hostB, _ := newTestHost(t)

	routerA := NewRouter(ctxA, hostA)
	defer routerA.Close()
	routerB := NewRouter(ctxB, hostB)
	defer routerB.Close()

	addrA := hostA.Addrs()[0].String() + "/p2p/" + hostA.ID().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := routerB.Bootstrap(ctx, []string{addrA}, 5*time.Second); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if routerB.KnownPeerCount() == 0 {
		t.Fatal("expected Bootstrap to add the seed peer to the routing table")
	}
}
