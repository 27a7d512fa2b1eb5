package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// StoreManifest persists m's JSON encoding in the block store keyed by
// its own FileHash, so a manifest is fetchable over the same
// block-exchange path as any content chunk (the discovery flow's
// `meta:{merkle_root}` DHT record only carries the slim summary; the
// full per-chunk hash list travels peer-to-peer on demand).
func (e *Engine) StoreManifest(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(err, "encode manifest")
	}
	return e.store.Put(m.FileHash, data)
}

// LoadManifest fetches and verifies the manifest stored under hash,
// returning a NotFound error if the local block store does not have
// it (the caller is expected to fall back to a remote block-exchange
// request using the same hash).
func (e *Engine) LoadManifest(hash string) (*Manifest, error) {
	if !e.store.Has(hash) {
		return nil, errs.New(errs.KindNotFound, "manifest "+hash+" not present locally")
	}
	data, err := e.store.Get(hash)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrapf(errs.KindIntegrityMismatch, err, "decode manifest")
	}
	if err := m.VerifySelf(); err != nil {
		return nil, err
	}
	return &m, nil
}

// StoreManifestChunk writes a chunk received from a peer or HTTP
// mirror into the local block store, keyed by its plaintext hash.
// Callers are expected to have already verified data against
// wantHash (block-exchange and the HTTP fallback both do this before
// returning); StoreManifestChunk re-verifies defensively since it is
// the last point before the bytes become part of local state.
func (e *Engine) StoreManifestChunk(m *Manifest, index int, data []byte) error {
	if index < 0 || index >= len(m.Chunks) {
		return errs.New(errs.KindValidation, "chunk index out of range for manifest")
	}
	want := m.Chunks[index].Hash
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != want {
		return errs.New(errs.KindIntegrityMismatch, "received chunk does not match manifest hash")
	}
	return e.store.Put(want, data)
}

// ComputeHash returns the manifest's self-hash: the SHA-256 of its
// JSON encoding with ManifestHash and CID cleared first, so neither
// field participates in its own computation (spec §3); Seal derives
// the CID from the sealed encoding afterwards.
func (m *Manifest) ComputeHash() (string, error) {
	clone := *m
	clone.ManifestHash = ""
	clone.CID = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", errs.Wrap(err, "marshal manifest for hashing")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the manifest's self-hash, then derives its
// CIDv1 from the sealed JSON encoding (the CID field itself is still
// unset at marshal time, so it never participates in its own value).
func (m *Manifest) Seal() error {
	h, err := m.ComputeHash()
	if err != nil {
		return err
	}
	m.ManifestHash = h

	data, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(err, "marshal manifest for cid")
	}
	sum := sha256.Sum256(data)
	c, err := cidFromDigest(sum[:])
	if err != nil {
		return err
	}
	m.CID = c
	return nil
}

// VerifySelf checks that ManifestHash matches the manifest's current
// content.
func (m *Manifest) VerifySelf() error {
	want, err := m.ComputeHash()
	if err != nil {
		return err
	}
	if want != m.ManifestHash {
		return errs.New(errs.KindIntegrityMismatch, "manifest self-hash mismatch")
	}
	return nil
}
