package chunkstore

import (
	"bytes"
	"testing"
)

func TestEncryptChunkThenDecryptRoundTrips(t *testing.T) {
	key, err := NewChunkKey()
	if err != nil {
		t.Fatalf("NewChunkKey: %v", err)
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	sealed, err := EncryptChunk(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptChunk: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	opened, err := DecryptChunk(key, sealed)
	if err != nil {
		t.Fatalf("DecryptChunk: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatal("decrypted chunk does not match original plaintext")
	}
}

func TestDecryptChunkWithWrongKeyFails(t *testing.T) {
	key, err := NewChunkKey()
	if err != nil {
		t.Fatalf("NewChunkKey: %v", err)
	}
	other, err := NewChunkKey()
	if err != nil {
		t.Fatalf("NewChunkKey: %v", err)
	}
	sealed, err := EncryptChunk(key, []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptChunk: %v", err)
	}
	if _, err := DecryptChunk(other, sealed); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptChunkTooShortFails(t *testing.T) {
	key, err := NewChunkKey()
	if err != nil {
		t.Fatalf("NewChunkKey: %v", err)
	}
	if _, err := DecryptChunk(key, []byte("short")); err == nil {
		t.Fatal("expected an error for a blob shorter than the nonce")
	}
}
