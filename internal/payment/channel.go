package payment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/metrics"
)

// ProtocolID is the payment-notification request/response stream
// protocol (spec §4.7).
const ProtocolID = "/chiral/payment/1"

const maxFrameBytes = 16 << 10 // notifications are small, fixed-shape JSON

// DefaultPendingGC is how long an undelivered notification stays in
// the pending map before being dropped (spec §4.7).
const DefaultPendingGC = time.Hour

// DefaultManualRetryCooldown bounds user-driven manual retries per
// pending key (spec §4.7).
const DefaultManualRetryCooldown = 10 * time.Second

// DefaultRetryDelays is the retry schedule applied by Notify: three
// attempts at 0s, 5s, 15s (total budget 20s), spec §4.7.
var DefaultRetryDelays = []time.Duration{0, 5 * time.Second, 15 * time.Second}

func writeFramed(w io.Writer, v interface{}) error {
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

func readFramed(r io.Reader, v interface{}) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return errs.New(errs.KindIntegrityMismatch, "payment-notification message too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

type ackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// pendingEntry is a notification awaiting delivery or manual retry
// after its automatic attempts were exhausted.
type pendingEntry struct {
	notification *Notification
	addrs        []string
	enqueuedAt   time.Time
	lastManual   time.Time
}

// Channel implements the payment-notification protocol: payer-side
// bounded-retry delivery with a pending map, and payee-side idempotent
// receipt (spec §4.7).
type Channel struct {
	host host.Host
	log  *logrus.Entry

	retryDelays []time.Duration
	pendingGC   time.Duration

	onReceive func(context.Context, *Notification) error

	mu      sync.Mutex
	pending map[string]*pendingEntry
	seen    map[string]time.Time
}

// NewChannel registers the stream handler on h. onReceive is invoked
// for each newly-seen (non-duplicate) notification; it should credit
// the payment and is expected to be idempotent-safe to retry.
func NewChannel(h host.Host, onReceive func(context.Context, *Notification) error) *Channel {
	c := &Channel{
		host:        h,
		log:         logging.For("payment"),
		retryDelays: DefaultRetryDelays,
		pendingGC:   DefaultPendingGC,
		onReceive:   onReceive,
		pending:     make(map[string]*pendingEntry),
		seen:        make(map[string]time.Time),
	}
	h.SetStreamHandler(protocol.ID(ProtocolID), c.handle)
	return c
}

func (c *Channel) handle(s network.Stream) {
	defer s.Close()
	var n Notification
	if err := readFramed(s, &n); err != nil {
		c.log.WithError(err).Debug("malformed payment notification")
		return
	}
	resp := c.deliver(context.Background(), &n)
	if err := writeFramed(s, resp); err != nil {
		c.log.WithError(err).Debug("failed to ack payment notification")
	}
}

func (c *Channel) deliver(ctx context.Context, n *Notification) ackResponse {
	logger := zap.L().Sugar()
	if err := n.Verify(); err != nil {
		c.log.WithError(err).Warn("rejected payment notification with invalid signature")
		return ackResponse{OK: false, Error: err.Error()}
	}

	key := n.dedupKey()
	c.mu.Lock()
	_, duplicate := c.seen[key]
	if !duplicate {
		c.seen[key] = time.Now()
	}
	c.mu.Unlock()

	if duplicate {
		logger.Infof("duplicate payment notification %s acknowledged without re-crediting", key)
		// Acknowledged but not re-applied, per spec §4.7.
		return ackResponse{OK: true}
	}

	if c.onReceive != nil {
		if err := c.onReceive(ctx, n); err != nil {
			logger.Errorf("credit handler failed for notification %s: %v", key, err)
			c.log.WithError(err).Error("payment notification credit handler failed")
			return ackResponse{OK: false, Error: err.Error()}
		}
	}
	logger.Infof("payment notification %s credited", key)
	return ackResponse{OK: true}
}

func connectHint(ctx context.Context, h host.Host, pid peer.ID, addrStrs []string) {
	if h.Network().Connectedness(pid) == network.Connected {
		return
	}
	var addrs []multiaddr.Multiaddr
	for _, s := range addrStrs {
		if ma, err := multiaddr.NewMultiaddr(s); err == nil {
			addrs = append(addrs, ma)
		}
	}
	if len(addrs) == 0 {
		return
	}
	_ = h.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: addrs})
}

func (c *Channel) send(ctx context.Context, pid peer.ID, addrs []string, n *Notification) error {
	connectHint(ctx, c.host, pid, addrs)
	s, err := c.host.NewStream(ctx, pid, protocol.ID(ProtocolID))
	if err != nil {
		return errs.Wrapf(errs.KindPeerUnreachable, err, "open payment-notification stream to %s", pid)
	}
	defer s.Close()

	if err := writeFramed(s, n); err != nil {
		return err
	}
	if err := s.CloseWrite(); err != nil {
		return err
	}
	var resp ackResponse
	if err := readFramed(s, &resp); err != nil {
		return errs.Wrapf(errs.KindTimeout, err, "read payment-notification ack from %s", pid)
	}
	if !resp.OK {
		return errs.New(errs.KindSignatureInvalid, "peer rejected payment notification: "+resp.Error)
	}
	return nil
}

// Notify signs n and delivers it to n.Payee at addrs, retrying at the
// configured schedule (default 0s/5s/15s). If every attempt fails, n
// is enqueued in the pending map and Notify returns a non-nil error
// explicitly describing the failure (spec §4.7: never silent).
func (c *Channel) Notify(ctx context.Context, addrs []string, n *Notification, priv crypto.PrivKey) error {
	if err := n.Sign(priv); err != nil {
		return err
	}

	var lastErr error
	for i, delay := range c.retryDelays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.Wrapf(errs.KindCancelled, ctx.Err(), "payment notify cancelled before attempt %d", i+1)
			}
		}
		lastErr = c.send(ctx, n.Payee, addrs, n)
		if lastErr == nil {
			metrics.PaymentNotifyAttempts.WithLabelValues("ok").Inc()
			c.clearPending(n.pendingKey())
			return nil
		}
		metrics.PaymentNotifyAttempts.WithLabelValues("retry").Inc()
	}

	metrics.PaymentNotifyAttempts.WithLabelValues("exhausted").Inc()
	c.enqueuePending(n, addrs)
	return errs.Wrap(lastErr, "payment notification delivery failed after all retries; enqueued for manual retry")
}

func (c *Channel) enqueuePending(n *Notification, addrs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[n.pendingKey()] = &pendingEntry{notification: n, addrs: addrs, enqueuedAt: time.Now()}
}

func (c *Channel) clearPending(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
}

// ManualRetry re-attempts delivery of the pending notification keyed
// by (file_hash, payee), rate-limited to one attempt per
// DefaultManualRetryCooldown per key (spec §4.7).
func (c *Channel) ManualRetry(ctx context.Context, pendingKey string) error {
	c.mu.Lock()
	entry, ok := c.pending[pendingKey]
	if !ok {
		c.mu.Unlock()
		return errs.New(errs.KindNotFound, "no pending payment notification for "+pendingKey)
	}
	if !entry.lastManual.IsZero() && time.Since(entry.lastManual) < DefaultManualRetryCooldown {
		c.mu.Unlock()
		return errs.New(errs.KindQuotaExceeded, "manual retry rate limit: try again later")
	}
	entry.lastManual = time.Now()
	n, addrs := entry.notification, entry.addrs
	c.mu.Unlock()

	if err := c.send(ctx, n.Payee, addrs, n); err != nil {
		metrics.PaymentNotifyAttempts.WithLabelValues("manual_retry_failed").Inc()
		return err
	}
	metrics.PaymentNotifyAttempts.WithLabelValues("manual_retry_ok").Inc()
	c.clearPending(pendingKey)
	return nil
}

// GCPending drops pending entries older than the configured TTL
// (default 1 hour), per spec §4.7.
func (c *Channel) GCPending(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key, entry := range c.pending {
		if now.Sub(entry.enqueuedAt) > c.pendingGC {
			delete(c.pending, key)
			dropped++
		}
	}
	return dropped
}

// PendingCount reports how many notifications are currently awaiting
// manual retry, used by tests and operational introspection.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
