package overlay

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestIdentity(t *testing.T) (crypto.PrivKey, peer.ID) {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("IDFromPrivateKey: %v", err)
	}
	return priv, id
}

func TestRecordSignThenVerifySucceeds(t *testing.T) {
	priv, id := newTestIdentity(t)
	rec := &Record{Key: "meta:abc", Value: []byte("hello"), Publisher: id, Timestamp: time.Now()}
	if err := rec.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := rec.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRecordVerifyRejectsUnsigned(t *testing.T) {
	_, id := newTestIdentity(t)
	rec := &Record{Key: "meta:abc", Value: []byte("hello"), Publisher: id, Timestamp: time.Now()}
	if err := rec.Verify(); err == nil {
		t.Fatal("expected an unsigned record to fail verification")
	}
}

func TestRecordVerifyRejectsTamperedValue(t *testing.T) {
	priv, id := newTestIdentity(t)
	rec := &Record{Key: "meta:abc", Value: []byte("hello"), Publisher: id, Timestamp: time.Now()}
	if err := rec.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	rec.Value = []byte("tampered")
	if err := rec.Verify(); err == nil {
		t.Fatal("expected tampering after signing to fail verification")
	}
}

func TestRecordVerifyRejectsOversizedValue(t *testing.T) {
	priv, id := newTestIdentity(t)
	rec := &Record{Key: "meta:abc", Value: make([]byte, MaxRecordBytes+1), Publisher: id, Timestamp: time.Now()}
	if err := rec.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := rec.Verify(); err == nil {
		t.Fatal("expected an oversized record to fail verification")
	}
}

func TestRecordExpired(t *testing.T) {
	rec := &Record{Timestamp: time.Now().Add(-RecordTTL - time.Minute)}
	if !rec.Expired(time.Now()) {
		t.Fatal("expected a record older than RecordTTL to be expired")
	}
	fresh := &Record{Timestamp: time.Now()}
	if fresh.Expired(time.Now()) {
		t.Fatal("expected a freshly timestamped record not to be expired")
	}
}

func TestResolveConflictPrefersLatestTimestamp(t *testing.T) {
	older := &Record{Publisher: peer.ID("a"), Timestamp: time.Now().Add(-time.Hour)}
	newer := &Record{Publisher: peer.ID("b"), Timestamp: time.Now()}
	if resolveConflict(older, newer) != newer {
		t.Fatal("expected the record with the later timestamp to win")
	}
	if resolveConflict(newer, older) != newer {
		t.Fatal("expected the record with the later timestamp to win regardless of argument order")
	}
}

func TestResolveConflictTieBreaksOnPublisher(t *testing.T) {
	now := time.Now()
	a := &Record{Publisher: peer.ID("aaa"), Timestamp: now}
	b := &Record{Publisher: peer.ID("bbb"), Timestamp: now}
	if resolveConflict(a, b) != b {
		t.Fatal("expected the lexicographically greater publisher to win a timestamp tie")
	}
}
