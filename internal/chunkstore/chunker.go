package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// DefaultChunkSize matches spec §6's default of 256 KiB.
const DefaultChunkSize = 256 * 1024

// ManifestVersion is the current on-disk manifest schema version.
const ManifestVersion = 1

// Engine owns a BlockStore and performs the chunk/manifest
// transformation in both directions (spec §4.3).
type Engine struct {
	store     *BlockStore
	chunkSize int
}

// NewEngine wires an Engine around store with the given default chunk
// size (bytes).
func NewEngine(store *BlockStore, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{store: store, chunkSize: chunkSize}
}

// IngestOptions configures one AddFile call.
type IngestOptions struct {
	Encrypt bool
}

// AddFile splits the file at path into chunks, stores each one
// (deduped, optionally encrypted) and returns the resulting manifest.
func (e *Engine) AddFile(path string, opts IngestOptions) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "open file for chunking")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(err, "stat file for chunking")
	}

	var key []byte
	enc := EncryptionInfo{}
	if opts.Encrypt {
		key, err = NewChunkKey()
		if err != nil {
			return nil, err
		}
		enc.Algorithm = AlgorithmChaCha20Poly1305
		enc.WrappedKey = key
	}

	var (
		chunks     []ChunkRecord
		leafHashes [][32]byte
		offset     int64
		buf        = make([]byte, e.chunkSize)
	)

	for idx := 0; ; idx++ {
		n, readErr := io.ReadFull(f, buf)
		// A zero-byte file still produces exactly one (empty) chunk and
		// a well-defined root (spec §8); only treat a zero-length read
		// as end-of-input once at least one chunk has already been
		// emitted.
		if n == 0 && readErr == io.EOF && idx > 0 {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return nil, errs.Wrap(readErr, "read chunk")
		}
		plain := buf[:n]
		sum := sha256.Sum256(plain)
		hashHex := hex.EncodeToString(sum[:])
		chunkCID, err := cidFromDigest(sum[:])
		if err != nil {
			return nil, err
		}

		stored := plain
		if opts.Encrypt {
			stored, err = EncryptChunk(key, plain)
			if err != nil {
				return nil, err
			}
		}
		if err := e.store.Put(hashHex, stored); err != nil {
			return nil, err
		}

		chunks = append(chunks, ChunkRecord{Index: idx, Hash: hashHex, CID: chunkCID, Size: n, Offset: offset})
		leafHashes = append(leafHashes, sum)
		offset += int64(n)

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	root := BuildMerkleRoot(leafHashes)
	m := &Manifest{
		Version:     ManifestVersion,
		FileHash:    hex.EncodeToString(root[:]),
		FileName:    info.Name(),
		FileSize:    info.Size(),
		ChunkSize:   e.chunkSize,
		TotalChunks: len(chunks),
		Chunks:      chunks,
		Encryption:  enc,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Seal(); err != nil {
		return nil, err
	}
	if err := e.StoreManifest(m); err != nil {
		return nil, err
	}
	return m, nil
}
