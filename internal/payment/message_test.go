package payment

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestPeer(t *testing.T) (peer.ID, crypto.PrivKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}
	return id, priv
}

func TestSignedTransactionMessageSignVerify(t *testing.T) {
	from, fromKey := newTestPeer(t)
	to, _ := newTestPeer(t)

	msg := &SignedTransactionMessage{
		From:     from,
		To:       to,
		Amount:   100,
		FileHash: "deadbeef",
		Nonce:    1,
		Deadline: time.Now().Add(time.Hour),
	}
	if err := msg.Sign(fromKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := msg.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	msg.Amount = 200
	if err := msg.Verify(); err == nil {
		t.Fatal("expected verification failure after tampering with amount")
	}
}

func TestNotificationSignVerify(t *testing.T) {
	payer, payerKey := newTestPeer(t)
	payee, _ := newTestPeer(t)

	n := &Notification{
		FileHash:  "deadbeef",
		Amount:    50,
		Payer:     payer,
		Payee:     payee,
		Timestamp: time.Now(),
	}
	if err := n.Sign(payerKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := n.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestNotificationDedupKeyPrefersTxHash(t *testing.T) {
	payer, _ := newTestPeer(t)
	payee, _ := newTestPeer(t)
	a := &Notification{FileHash: "a", Payer: payer, Payee: payee, TxHash: "tx-1"}
	b := &Notification{FileHash: "b", Payer: payer, Payee: payee, TxHash: "tx-1"}
	if a.dedupKey() != b.dedupKey() {
		t.Fatal("expected identical tx_hash to produce the same dedup key regardless of file_hash")
	}

	c := &Notification{FileHash: "a", Payer: payer, Payee: payee}
	d := &Notification{FileHash: "a", Payer: payer, Payee: payee}
	if c.dedupKey() != d.dedupKey() {
		t.Fatal("expected identical (file_hash, payer) to produce the same dedup key when tx_hash is absent")
	}
	if a.dedupKey() == c.dedupKey() {
		t.Fatal("expected tx_hash-keyed and fallback-keyed notifications to differ")
	}
}

func TestNotificationPendingKey(t *testing.T) {
	payer, _ := newTestPeer(t)
	payee, _ := newTestPeer(t)
	n1 := &Notification{FileHash: "a", Payer: payer, Payee: payee, TxHash: "tx-1"}
	n2 := &Notification{FileHash: "a", Payer: payer, Payee: payee, TxHash: "tx-2"}
	if n1.pendingKey() != n2.pendingKey() {
		t.Fatal("expected pending key to be keyed by (file_hash, payee) regardless of tx_hash")
	}
}
