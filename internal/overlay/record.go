package overlay

import (
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// MaxRecordBytes is the per-record size cap (spec §3/§4.1).
const MaxRecordBytes = 2048

// RepublishInterval is the republish period for a publisher's own
// records (spec §3, default hourly). Nothing in this package
// republishes records on a timer; a record that is not put again
// expires after RecordTTL.
const RepublishInterval = time.Hour

// RecordTTL is how long a receiver holds a record that is not
// refreshed (spec §3, default 24h).
const RecordTTL = 24 * time.Hour

// Record is a signed DHT record: spec §3's
// (key, value, publisher, timestamp, signature) tuple.
type Record struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Publisher peer.ID   `json:"publisher"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

// signedBytes returns the canonical byte sequence that Signature
// attests to: everything except the signature itself.
func (r *Record) signedBytes() []byte {
	buf := make([]byte, 0, len(r.Key)+len(r.Value)+len(r.Publisher)+8)
	buf = append(buf, r.Key...)
	buf = append(buf, r.Value...)
	buf = append(buf, []byte(r.Publisher)...)
	ts, _ := r.Timestamp.UTC().MarshalBinary()
	buf = append(buf, ts...)
	return buf
}

// Sign populates Signature using priv, which must belong to Publisher.
func (r *Record) Sign(priv crypto.PrivKey) error {
	sig, err := priv.Sign(r.signedBytes())
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "sign record %s", r.Key)
	}
	r.Signature = sig
	return nil
}

// Verify checks the record's size cap and signature against the
// publisher's embedded public key. Unsigned or bad-signature records
// are rejected per spec §4.1.
func (r *Record) Verify() error {
	if len(r.Value) > MaxRecordBytes {
		return errs.New(errs.KindQuotaExceeded, "record exceeds 2048 byte cap")
	}
	if len(r.Signature) == 0 {
		return errs.New(errs.KindSignatureInvalid, "record is unsigned")
	}
	pub, err := r.Publisher.ExtractPublicKey()
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "extract publisher public key")
	}
	ok, err := pub.Verify(r.signedBytes(), r.Signature)
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "verify record signature")
	}
	if !ok {
		return errs.New(errs.KindSignatureInvalid, "record signature mismatch")
	}
	return nil
}

// Expired reports whether the record has outlived RecordTTL from its
// Timestamp, as observed by a receiver (not the publisher).
func (r *Record) Expired(now time.Time) bool {
	return now.Sub(r.Timestamp) > RecordTTL
}

// resolveConflict implements the conflict rule of spec §4.1: highest
// timestamp wins; on a tie, the lexicographically greater publisher
// wins.
func resolveConflict(a, b *Record) *Record {
	if a.Timestamp.After(b.Timestamp) {
		return a
	}
	if b.Timestamp.After(a.Timestamp) {
		return b
	}
	if string(a.Publisher) > string(b.Publisher) {
		return a
	}
	return b
}
