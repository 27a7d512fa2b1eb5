package overlay

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

func TestDistanceIsZeroForIdenticalKeys(t *testing.T) {
	k := HashKey("meta:same")
	if Distance(k, k).Sign() != 0 {
		t.Fatal("expected zero XOR distance between a key and itself")
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := HashKey("a")
	b := HashKey("b")
	if Distance(a, b).Cmp(Distance(b, a)) != 0 {
		t.Fatal("expected XOR distance to be symmetric")
	}
}

func TestLessOrdersByDistanceToTarget(t *testing.T) {
	target := HashKey("target")
	a := HashKey("a")
	b := HashKey("b")
	// Exactly one of a,b is strictly closer (ties are vanishingly
	// unlikely with SHA-256 outputs), and Less must agree with Distance.
	da := Distance(target, a)
	db := Distance(target, b)
	if da.Cmp(db) == 0 {
		t.Skip("unexpected exact tie between two independent hashes")
	}
	want := da.Cmp(db) < 0
	if Less(target, a, b) != want {
		t.Fatalf("Less(%v,%v,%v) = %v, want %v", target, a, b, Less(target, a, b), want)
	}
}

func TestCommonPrefixLenIdenticalIsFull(t *testing.T) {
	k := HashKey("x")
	if CommonPrefixLen(k, k) != 256 {
		t.Fatalf("expected 256 shared bits for identical keys, got %d", CommonPrefixLen(k, k))
	}
}

func TestCommonPrefixLenDiffersInFirstByte(t *testing.T) {
	a := KeyID{}
	b := KeyID{}
	b[0] = 0x80 // differ in the very first bit
	if got := CommonPrefixLen(a, b); got != 0 {
		t.Fatalf("expected 0 shared leading bits, got %d", got)
	}
}

func TestQuorumResolve(t *testing.T) {
	cases := []struct {
		q    Quorum
		k    int
		want int
	}{
		{QuorumOne, 5, 1},
		{QuorumMajority, 5, 3},
		{QuorumMajority, 4, 3},
		{QuorumAll, 5, 5},
		{Quorum(3), 5, 3},
		{Quorum(10), 5, 5}, // capped at k
		{Quorum(0), 5, 1},  // non-positive falls back to 1
	}
	for _, c := range cases {
		if got := c.q.resolve(c.k); got != c.want {
			t.Fatalf("Quorum(%d).resolve(%d) = %d, want %d", c.q, c.k, got, c.want)
		}
	}
}

func TestHashPeerIsDeterministic(t *testing.T) {
	id := peer.ID("some-peer")
	if HashPeer(id) != HashPeer(id) {
		t.Fatal("expected HashPeer to be deterministic for the same input")
	}
}
