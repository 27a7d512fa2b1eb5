package overlay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
)

// ProtocolID is this DHT's stream protocol, analogous to the
// block-exchange protocol ID in spec §6 but for Kademlia RPCs.
const ProtocolID = "/chiral/kad/1.0.0"

// maxMessageBytes bounds a single framed message, guarding against a
// misbehaving peer claiming an enormous length prefix.
const maxMessageBytes = 1 << 20 // 1 MiB

type msgType string

const (
	msgFindNode     msgType = "FIND_NODE"
	msgGetValue     msgType = "GET_VALUE"
	msgPutValue     msgType = "PUT_VALUE"
	msgAddProvider  msgType = "ADD_PROVIDER"
	msgGetProviders msgType = "GET_PROVIDERS"
	msgPing         msgType = "PING"
)

// peerAddrInfo is the wire form of a routable peer: ID plus its known
// multiaddr strings.
type peerAddrInfo struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

type kadRequest struct {
	Type     msgType        `json:"type"`
	Target   string         `json:"target,omitempty"` // hex KeyID for FIND_NODE
	Key      string         `json:"key,omitempty"`    // record key for GET/PUT/ADD_PROVIDER/GET_PROVIDERS
	Record   *Record        `json:"record,omitempty"`
	Provider *peerAddrInfo  `json:"provider,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

type kadResponse struct {
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	Peers     []peerAddrInfo `json:"peers,omitempty"`
	Record    *Record        `json:"record,omitempty"`
	Providers []peerAddrInfo `json:"providers,omitempty"`
}

// writeFramed writes a length-prefixed JSON message: a 4-byte
// big-endian length followed by the JSON bytes, the same {len: u32,
// bytes} shape the block-exchange protocol uses (spec §6).
func writeFramed(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func readFramed(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxMessageBytes {
		return fmt.Errorf("message too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return json.Unmarshal(buf, v)
}

// roundTrip writes req on s, a stream the caller has freshly opened,
// reads one response, and closes the stream. Kademlia RPCs are small and
// infrequent enough that per-call streams (rather than a persistent
// multiplexed session) keep the protocol handler simple.
func (r *Router) roundTrip(s network.Stream, req kadRequest) (*kadResponse, error) {
	defer s.Close()
	if err := writeFramed(s, req); err != nil {
		return nil, err
	}
	if err := s.CloseWrite(); err != nil {
		return nil, err
	}
	var resp kadResponse
	if err := readFramed(s, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
