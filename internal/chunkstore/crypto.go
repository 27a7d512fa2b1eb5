package chunkstore

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// AlgorithmChaCha20Poly1305 identifies the chunk encryption scheme
// recorded in a manifest's EncryptionInfo.
const AlgorithmChaCha20Poly1305 = "chacha20poly1305"

// NewChunkKey generates a random 32-byte AEAD key for one file.
func NewChunkKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errs.Wrap(err, "generate chunk key")
	}
	return key, nil
}

// EncryptChunk seals plaintext with a fresh 96-bit nonce, adapted from
// the teacher's Encrypt (core/security.go) but using the standard
// (not X-) construction so the nonce matches the spec's 96-bit size;
// the plaintext hash used for integrity (spec §4.3) is computed by the
// caller before encryption, not by this function.
func EncryptChunk(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.Wrap(err, "init chacha20poly1305")
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(err, "generate nonce")
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// DecryptChunk reverses EncryptChunk.
func DecryptChunk(key, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.Wrap(err, "init chacha20poly1305")
	}
	if len(blob) < chacha20poly1305.NonceSize {
		return nil, errs.New(errs.KindIntegrityMismatch, "encrypted chunk shorter than nonce")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSize], blob[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrapf(errs.KindIntegrityMismatch, err, "decrypt chunk")
	}
	return plaintext, nil
}
