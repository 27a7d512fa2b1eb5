package reach

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// ProbeProtocolID is the dial-back reachability probe protocol.
const ProbeProtocolID = "/chiral/reach/1.0.0"

const probeDialTimeout = 8 * time.Second

type probeRequest struct {
	Addrs []string `json:"addrs"`
}

type probeResponse struct {
	Reached bool `json:"reached"`
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readJSON(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > 1<<16 {
		return fmt.Errorf("reach: probe message too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// Prober handles both sides of the reachability probe: responding to
// dial-back requests, and asking peers to dial us back.
type Prober struct {
	host host.Host
	log  *logrus.Entry
}

// NewProber registers the dial-back stream handler on h.
func NewProber(h host.Host, log *logrus.Entry) *Prober {
	p := &Prober{host: h, log: log}
	h.SetStreamHandler(ProbeProtocolID, p.handle)
	return p
}

func (p *Prober) handle(s network.Stream) {
	defer s.Close()
	var req probeRequest
	if err := readJSON(s, &req); err != nil {
		return
	}
	reached := false
	for _, a := range req.Addrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), probeDialTimeout)
		err = p.host.Connect(ctx, peer.AddrInfo{ID: s.Conn().RemotePeer(), Addrs: []multiaddr.Multiaddr{ma}})
		cancel()
		if err == nil {
			reached = true
			break
		}
	}
	_ = writeJSON(s, probeResponse{Reached: reached})
}

// AskDialback requests that remote dial us back on our current listen
// addresses, reporting whether it succeeded.
func (p *Prober) AskDialback(ctx context.Context, remote peer.ID, ourAddrs []string) (bool, error) {
	s, err := p.host.NewStream(ctx, remote, protocol.ID(ProbeProtocolID))
	if err != nil {
		return false, err
	}
	defer s.Close()
	if err := writeJSON(s, probeRequest{Addrs: ourAddrs}); err != nil {
		return false, err
	}
	if err := s.CloseWrite(); err != nil {
		return false, err
	}
	var resp probeResponse
	if err := readJSON(s, &resp); err != nil {
		return false, err
	}
	return resp.Reached, nil
}
