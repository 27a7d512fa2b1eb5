// Package reputation implements the verdict scoring, trust levels,
// and blacklist described in spec §4.6.
package reputation

import (
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// Outcome is a verdict's transaction result.
type Outcome string

const (
	OutcomeGood      Outcome = "good"
	OutcomeDisputed  Outcome = "disputed"
	OutcomeBad       Outcome = "bad"
)

// outcomeValue maps an Outcome to its scoring contribution (spec
// §4.6: good→1.0, disputed→0.5, bad→0.0).
func outcomeValue(o Outcome) float64 {
	switch o {
	case OutcomeGood:
		return 1.0
	case OutcomeDisputed:
		return 0.5
	default:
		return 0.0
	}
}

// Verdict is a signed attestation of one transaction's outcome between
// issuer and target (spec §3's TransactionVerdict).
type Verdict struct {
	Issuer        peer.ID `json:"issuer"`
	Target        peer.ID `json:"target"`
	TxHash        string  `json:"tx_hash,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Metric        string  `json:"metric"`
	Details       string  `json:"details,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	SeqNo         uint64  `json:"seq_no"`
	Signature     []byte  `json:"signature"`
	EvidenceBlobs []string `json:"evidence_blobs,omitempty"`
}

// dedupKey identifies a verdict for deduplication: (issuer, tx_hash or
// "none", seq_no) per spec §3.
func (v *Verdict) dedupKey() string {
	tx := v.TxHash
	if tx == "" {
		tx = "none"
	}
	return v.Issuer.String() + "|" + tx + "|" + itoa(v.SeqNo)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (v *Verdict) signedBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(v.Issuer)...)
	buf = append(buf, []byte(v.Target)...)
	buf = append(buf, []byte(v.TxHash)...)
	buf = append(buf, []byte(v.Outcome)...)
	buf = append(buf, []byte(v.Metric)...)
	ts, _ := v.IssuedAt.UTC().MarshalBinary()
	buf = append(buf, ts...)
	buf = append(buf, itoa(v.SeqNo)...)
	return buf
}

// Sign populates Signature; priv must belong to Issuer.
func (v *Verdict) Sign(priv crypto.PrivKey) error {
	sig, err := priv.Sign(v.signedBytes())
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "sign verdict")
	}
	v.Signature = sig
	return nil
}

// Verify rejects self-verdicts and checks the signature against the
// issuer's embedded public key (spec §4.6/§3 invariants).
func (v *Verdict) Verify() error {
	if v.Issuer == v.Target {
		return errs.New(errs.KindSignatureInvalid, "self-verdicts are rejected")
	}
	pub, err := v.Issuer.ExtractPublicKey()
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "extract issuer public key")
	}
	ok, err := pub.Verify(v.signedBytes(), v.Signature)
	if err != nil {
		return errs.Wrapf(errs.KindSignatureInvalid, err, "verify verdict signature")
	}
	if !ok {
		return errs.New(errs.KindSignatureInvalid, "verdict signature mismatch")
	}
	return nil
}

// dedupVerdicts collapses verdicts sharing a dedupKey to the one with
// the later IssuedAt (spec §3/§4.6).
func dedupVerdicts(in []*Verdict) []*Verdict {
	byKey := make(map[string]*Verdict, len(in))
	for _, v := range in {
		existing, ok := byKey[v.dedupKey()]
		if !ok || v.IssuedAt.After(existing.IssuedAt) {
			byKey[v.dedupKey()] = v
		}
	}
	out := make([]*Verdict, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, v)
	}
	return out
}
