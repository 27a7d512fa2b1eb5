package blockex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/chunkstore"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestRequestFetchesAndVerifiesKnownChunk(t *testing.T) {
	serverHost, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New server: %v", err)
	}
	defer serverHost.Close()

	clientHost, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New client: %v", err)
	}
	defer clientHost.Close()

	serverStore, err := chunkstore.NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	data := []byte("hello from the server's block store")
	hash := hashOf(data)
	if err := serverStore.Put(hash, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	NewExchange(serverHost, serverStore)

	clientStore, err := chunkstore.NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	client := NewExchange(clientHost, clientStore)

	serverInfo := peer.AddrInfo{ID: serverHost.ID(), Addrs: serverHost.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clientHost.Connect(ctx, serverInfo); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got, err := client.Request(ctx, serverHost.ID(), hash)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestRequestUnknownChunkReturnsNotFound(t *testing.T) {
	serverHost, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New server: %v", err)
	}
	defer serverHost.Close()

	clientHost, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New client: %v", err)
	}
	defer clientHost.Close()

	serverStore, err := chunkstore.NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	NewExchange(serverHost, serverStore)

	clientStore, err := chunkstore.NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	client := NewExchange(clientHost, clientStore)

	serverInfo := peer.AddrInfo{ID: serverHost.ID(), Addrs: serverHost.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clientHost.Connect(ctx, serverInfo); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err = client.Request(ctx, serverHost.ID(), hashOf([]byte("never stored")))
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestHaveReflectsLocalStore(t *testing.T) {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	defer h.Close()

	store, err := chunkstore.NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	ex := NewExchange(h, store)

	data := []byte("present")
	hash := hashOf(data)
	if ex.Have(hash) {
		t.Fatal("expected Have to be false before storing")
	}
	if err := store.Put(hash, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !ex.Have(hash) {
		t.Fatal("expected Have to be true after storing")
	}
}
