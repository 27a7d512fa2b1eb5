// Package identity manages the node's long-lived Peer ID keypair,
// persisted to disk at start-up and loaded on subsequent runs (spec §3).
// Key material is a libp2p private key rather than a bare ed25519 key
// since the overlay (internal/overlay) is built directly on a libp2p
// host whose identity derives from this same key.
package identity

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// KeyFileName is the fixed name of the persisted private key under a
// node's data directory, per spec §6 ("keys/peer.key").
const KeyFileName = "peer.key"

// Identity bundles a node's private key, public key, and derived Peer ID.
type Identity struct {
	PrivKey crypto.PrivKey
	PubKey  crypto.PubKey
	ID      peer.ID
}

// LoadOrCreate loads the persisted key at <dataDir>/keys/peer.key, or
// generates a fresh Ed25519 keypair and persists it if none exists.
func LoadOrCreate(dataDir string) (*Identity, error) {
	keysDir := filepath.Join(dataDir, "keys")
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "create keys dir %s", keysDir)
	}
	keyPath := filepath.Join(keysDir, KeyFileName)

	if data, err := os.ReadFile(keyPath); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, errs.Wrapf(errs.KindConfigurationError, err, "unmarshal key file %s", keyPath)
		}
		return fromPrivKey(priv)
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "read key file %s", keyPath)
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "generate keypair")
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "marshal private key")
	}
	// Atomic write-temp + rename, the same pattern the storage engine
	// uses for chunk bytes, so a crash mid-write never leaves a
	// corrupt key file in place.
	tmp := keyPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "write key file %s", tmp)
	}
	if err := os.Rename(tmp, keyPath); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "install key file %s", keyPath)
	}
	return fromPrivKey(priv)
}

func fromPrivKey(priv crypto.PrivKey) (*Identity, error) {
	pub := priv.GetPublic()
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "derive peer id")
	}
	return &Identity{PrivKey: priv, PubKey: pub, ID: id}, nil
}

// Sign signs msg with the identity's private key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	sig, err := id.PrivKey.Sign(msg)
	if err != nil {
		return nil, errs.Wrapf(errs.KindSignatureInvalid, err, "sign")
	}
	return sig, nil
}

// Verify checks sig against msg using pub, the peer identity's public
// key. It never returns an error for a simple "signature doesn't
// match" — that is reported as (false, nil); errors indicate the
// public key or signature could not be parsed/processed at all.
func Verify(pub crypto.PubKey, msg, sig []byte) (bool, error) {
	ok, err := pub.Verify(msg, sig)
	if err != nil {
		return false, errs.Wrapf(errs.KindSignatureInvalid, err, "verify")
	}
	return ok, nil
}
