package chunkstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

func TestReassembleMissingChunkReturnsMissingChunksError(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTempFile(t, dir, 300)

	store, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	e := NewEngine(store, 100)
	m, err := e.AddFile(path, IngestOptions{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	// Simulate a chunk never having arrived by pointing at a fresh,
	// empty store while reusing the same manifest.
	emptyStore, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	e2 := NewEngine(emptyStore, 100)
	err = e2.Reassemble(m, filepath.Join(dir, "out.bin"))
	var missing *MissingChunksError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingChunksError, got %v", err)
	}
	if len(missing.Indices) != m.TotalChunks {
		t.Fatalf("expected all %d chunks reported missing, got %v", m.TotalChunks, missing.Indices)
	}
}

func TestReassembleCorruptedChunkReturnsChunkVerificationError(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTempFile(t, dir, 200)

	store, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	e := NewEngine(store, 100)
	m, err := e.AddFile(path, IngestOptions{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	// Corrupt the on-disk bytes for the first chunk directly.
	shard := m.Chunks[0].Hash[:2]
	chunkPath := filepath.Join(store.root, shard, m.Chunks[0].Hash)
	if err := os.WriteFile(chunkPath, []byte("corrupted-bytes-not-matching-hash"), 0o644); err != nil {
		t.Fatalf("corrupt chunk file: %v", err)
	}

	err = e.Reassemble(m, filepath.Join(dir, "out.bin"))
	if _, ok := err.(*ChunkVerificationError); !ok {
		t.Fatalf("expected *ChunkVerificationError, got %v", err)
	}
}

func TestReassembleDetectsFileHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeTempFile(t, dir, 200)

	store, err := NewBlockStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlockStore: %v", err)
	}
	e := NewEngine(store, 100)
	m, err := e.AddFile(path, IngestOptions{})
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	m.FileHash = "0000000000000000000000000000000000000000000000000000000000000000"

	err = e.Reassemble(m, filepath.Join(dir, "out.bin"))
	if !errs.Is(err, errs.KindIntegrityMismatch) {
		t.Fatalf("expected KindIntegrityMismatch for a forged file_hash, got %v", err)
	}
}
