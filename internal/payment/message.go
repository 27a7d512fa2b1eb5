// Package payment implements the off-chain payment commitment and
// notification channel of spec §4.7: a SignedTransactionMessage that
// binds a downloader to an amount before bytes flow, and a
// best-effort, retried, idempotent notification from payer to payee
// once a payment has been recorded.
package payment

import (
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// SignedTransactionMessage is the pre-transfer commitment a downloader
// makes to a seeder: "from" owes "amount" to "to" for "file_hash",
// valid until "deadline" (spec §4.6's handshake validation input).
type SignedTransactionMessage struct {
	From     peer.ID   `json:"from"`
	To       peer.ID   `json:"to"`
	Amount   uint64    `json:"amount"`
	FileHash string    `json:"file_hash"`
	Nonce    uint64    `json:"nonce"`
	Deadline time.Time `json:"deadline"`
	SigFrom  []byte    `json:"sig_from"`
}

func (m *SignedTransactionMessage) signedBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(m.From)...)
	buf = append(buf, []byte(m.To)...)
	buf = append(buf, []byte(m.FileHash)...)
	var amt [8]byte
	putUint64(amt[:], m.Amount)
	buf = append(buf, amt[:]...)
	var nonce [8]byte
	putUint64(nonce[:], m.Nonce)
	buf = append(buf, nonce[:]...)
	dl, _ := m.Deadline.UTC().MarshalBinary()
	buf = append(buf, dl...)
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// Sign populates SigFrom; priv must belong to From.
func (m *SignedTransactionMessage) Sign(priv crypto.PrivKey) error {
	sig, err := priv.Sign(m.signedBytes())
	if err != nil {
		return errs.Wrap(err, "sign transaction message")
	}
	m.SigFrom = sig
	return nil
}

// Verify checks the signature against From's embedded public key.
func (m *SignedTransactionMessage) Verify() error {
	pub, err := m.From.ExtractPublicKey()
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "extract sender public key")
	}
	ok, err := pub.Verify(m.signedBytes(), m.SigFrom)
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "verify transaction message signature")
	}
	if !ok {
		return errs.New(errs.KindSignatureInvalid, "transaction message signature mismatch")
	}
	return nil
}

// Notification is the payload delivered from payer to payee once a
// payment has been recorded (spec §4.7).
type Notification struct {
	FileHash  string    `json:"file_hash"`
	Amount    uint64    `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Payer     peer.ID   `json:"payer"`
	Payee     peer.ID   `json:"payee"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

func (n *Notification) signedBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(n.FileHash)...)
	var amt [8]byte
	putUint64(amt[:], n.Amount)
	buf = append(buf, amt[:]...)
	buf = append(buf, []byte(n.TxHash)...)
	buf = append(buf, []byte(n.Payer)...)
	buf = append(buf, []byte(n.Payee)...)
	ts, _ := n.Timestamp.UTC().MarshalBinary()
	buf = append(buf, ts...)
	return buf
}

// Sign populates Signature; priv must belong to Payer.
func (n *Notification) Sign(priv crypto.PrivKey) error {
	sig, err := priv.Sign(n.signedBytes())
	if err != nil {
		return errs.Wrap(err, "sign payment notification")
	}
	n.Signature = sig
	return nil
}

// Verify checks the signature against Payer's embedded public key.
func (n *Notification) Verify() error {
	pub, err := n.Payer.ExtractPublicKey()
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "extract payer public key")
	}
	ok, err := pub.Verify(n.signedBytes(), n.Signature)
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "verify payment notification signature")
	}
	if !ok {
		return errs.New(errs.KindSignatureInvalid, "payment notification signature mismatch")
	}
	return nil
}

// dedupKey prefers TxHash when present, else falls back to
// (file_hash, payer), per spec §4.7's payee-side deduplication rule.
func (n *Notification) dedupKey() string {
	if n.TxHash != "" {
		return "tx:" + n.TxHash
	}
	return "file:" + n.FileHash + "|" + n.Payer.String()
}

// pendingKey identifies a queued retry entry by (file_hash, payee),
// per spec §4.7's pending map.
func (n *Notification) pendingKey() string {
	return n.FileHash + "|" + n.Payee.String()
}
