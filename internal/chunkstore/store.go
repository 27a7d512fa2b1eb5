package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// BlockStore is content-addressed chunk storage: path
// chunks/{hash[0:2]}/{hash}, written atomically and never re-fetched
// once present (spec §4.3), adapted from the teacher's diskLRU
// (core/storage.go) with the eviction policy dropped — chunks are
// content-addressed and shared across every manifest that references
// them, so there is no single-owner LRU to evict against.
type BlockStore struct {
	root string
	mu   sync.Mutex
}

// NewBlockStore roots a store at dir/chunks.
func NewBlockStore(dir string) (*BlockStore, error) {
	root := filepath.Join(dir, "chunks")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrapf(errs.KindConfigurationError, err, "create chunk store at %s", root)
	}
	return &BlockStore{root: root}, nil
}

func (s *BlockStore) pathFor(hash string) string {
	shard := hash[:2]
	return filepath.Join(s.root, shard, hash)
}

// Has reports whether hash is already stored locally.
func (s *BlockStore) Has(hash string) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Put writes data under key, skipping the write entirely if the chunk
// is already present (dedup across all files). key is the chunk's
// plaintext SHA-256 hash when encryption is disabled; callers that
// store ciphertext (encryption enabled) still key by the plaintext
// hash so the manifest's content address stays encryption-independent
// (spec §4.3) — Put itself does not assume data hashes to key, since
// that equality only holds in the unencrypted case.
func (s *BlockStore) Put(key string, data []byte) error {
	if s.Has(key) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Has(key) { // re-check under lock
		return nil
	}

	dir := filepath.Dir(s.pathFor(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(err, "create chunk shard dir")
	}

	tmp, err := os.CreateTemp(dir, "chunk-*.tmp")
	if err != nil {
		return errs.Wrap(err, "create temp chunk file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(err, "write temp chunk file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(err, "close temp chunk file")
	}
	if err := os.Rename(tmpPath, s.pathFor(key)); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(err, "rename temp chunk file into place")
	}
	return nil
}

// Get reads the chunk stored under hash.
func (s *BlockStore) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, fmt.Sprintf("chunk %s not stored locally", hash))
		}
		return nil, errs.Wrap(err, "read chunk")
	}
	return data, nil
}
