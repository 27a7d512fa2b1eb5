package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// MissingChunksError reports which chunk indices are absent from the
// local store, preventing reassembly.
type MissingChunksError struct {
	Indices []int
}

func (e *MissingChunksError) Error() string {
	return "chunkstore: manifest references chunks not present locally"
}

// Reassemble streams every chunk of manifest m, in order, to
// outputPath, verifying the plaintext Merkle root before the file is
// considered valid (spec §4.3). On any mismatch the partial output is
// removed.
func (e *Engine) Reassemble(m *Manifest, outputPath string) error {
	var missing []int
	for _, c := range m.Chunks {
		if !e.store.Has(c.Hash) {
			missing = append(missing, c.Index)
		}
	}
	if len(missing) > 0 {
		return &MissingChunksError{Indices: missing}
	}

	out, err := os.CreateTemp("", "chiral-reassemble-*.tmp")
	if err != nil {
		return errs.Wrap(err, "create reassembly temp file")
	}
	tmpPath := out.Name()
	cleanup := true
	defer func() {
		out.Close()
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	var leafHashes [][32]byte
	var corrupted []int

	key := m.Encryption.WrappedKey
	for _, c := range m.Chunks {
		stored, err := e.store.Get(c.Hash)
		if err != nil {
			return err
		}
		plain := stored
		if m.Encryption.Algorithm == AlgorithmChaCha20Poly1305 {
			plain, err = DecryptChunk(key, stored)
			if err != nil {
				corrupted = append(corrupted, c.Index)
				continue
			}
		}
		sum := sha256.Sum256(plain)
		if hex.EncodeToString(sum[:]) != c.Hash {
			corrupted = append(corrupted, c.Index)
			continue
		}
		leafHashes = append(leafHashes, sum)
		if _, err := out.Write(plain); err != nil {
			return errs.Wrap(err, "write reassembled output")
		}
	}

	if len(corrupted) > 0 {
		return &ChunkVerificationError{Indices: corrupted}
	}

	root := BuildMerkleRoot(leafHashes)
	if hex.EncodeToString(root[:]) != m.FileHash {
		return errs.New(errs.KindIntegrityMismatch, "reassembled file hash does not match manifest file_hash")
	}

	if err := out.Close(); err != nil {
		return errs.Wrap(err, "finalize reassembly temp file")
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return errs.Wrap(err, "move reassembled file into place")
	}
	cleanup = false
	return nil
}

// ChunkVerificationError is a recoverable per-chunk failure: the
// caller should discard and re-fetch the listed indices (spec §4.3's
// "chunk hash mismatch is a recoverable error").
type ChunkVerificationError struct {
	Indices []int
}

func (e *ChunkVerificationError) Error() string {
	return "chunkstore: one or more chunks failed hash verification"
}
