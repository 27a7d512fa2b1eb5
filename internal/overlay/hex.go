package overlay

import (
	"encoding/hex"
	"fmt"
)

// String renders a KeyID as lowercase hex, used in DHT record keys and
// wire messages.
func (k KeyID) String() string {
	return hex.EncodeToString(k[:])
}

func decodeHex32(s string) (KeyID, error) {
	var k KeyID
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("decode hex key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("decode hex key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}
