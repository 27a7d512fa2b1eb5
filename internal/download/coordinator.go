package download

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/chunkstore"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/metrics"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/overlay"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/reach"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/reputation"
)

// ChunkRequester fetches one hash-addressed chunk from a peer,
// verifying it before returning (spec §4.5's block-exchange request).
// Satisfied by *internal/blockex.Exchange.
type ChunkRequester interface {
	Request(ctx context.Context, pid peer.ID, hash string) ([]byte, error)
}

// ReputationSource scores and blacklists peers for selection (spec
// §4.6). Satisfied by *internal/reputation.Engine.
type ReputationSource interface {
	ScorePeer(ctx context.Context, target peer.ID, quorum overlay.Quorum) (float64, reputation.TrustLevel, error)
	IsBlacklisted(id peer.ID) bool
}

// DHTRouter is the subset of overlay.Router discovery needs.
type DHTRouter interface {
	GetRecord(ctx context.Context, key string, quorum overlay.Quorum) (*overlay.Record, error)
	GetProviders(ctx context.Context, key string, limit int) ([]peer.ID, error)
}

// Options configures a Coordinator (spec §4.4/§6 defaults).
type Options struct {
	MaxParallelChunks int
	PeerChunkRetries  int
	ReputationFloor   float64
	PreferredRegion   string
	ProviderLimit     int
}

func (o Options) withDefaults() Options {
	if o.MaxParallelChunks <= 0 {
		o.MaxParallelChunks = DefaultMaxParallelChunks
	}
	if o.PeerChunkRetries <= 0 {
		o.PeerChunkRetries = DefaultPeerChunkRetries
	}
	if o.ReputationFloor <= 0 {
		o.ReputationFloor = DefaultReputationFloor
	}
	if o.ProviderLimit <= 0 {
		o.ProviderLimit = overlay.BucketSize
	}
	return o
}

// Coordinator implements the multi-source download flow of spec §4.4.
type Coordinator struct {
	host       host.Host
	router     DHTRouter
	chunks     ChunkRequester
	reputation ReputationSource
	engine     *chunkstore.Engine
	http       *HTTPFetcher
	log        *logrus.Entry
}

// NewCoordinator wires a Coordinator from its collaborators.
func NewCoordinator(h host.Host, router DHTRouter, chunks ChunkRequester, reputation ReputationSource, engine *chunkstore.Engine) *Coordinator {
	return &Coordinator{
		host:       h,
		router:     router,
		chunks:     chunks,
		reputation: reputation,
		engine:     engine,
		http:       NewHTTPFetcher(),
		log:        logging.For("download"),
	}
}

// resolveAddrs returns pid's plausible known addresses from the local
// peerstore, populated lazily by libp2p's Identify service once a
// connection exists (spec §4.2/§4.4).
func (c *Coordinator) resolveAddrs(pid peer.ID) []string {
	addrs := reach.FilterPlausible(c.host.Peerstore().Addrs(pid))
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func (c *Coordinator) candidatesFor(ctx context.Context, providers []peer.ID, stats map[peer.ID]*PeerStats, floor float64) []PeerCandidate {
	out := make([]PeerCandidate, 0, len(providers))
	for _, pid := range providers {
		if c.reputation != nil && c.reputation.IsBlacklisted(pid) {
			continue
		}
		reputationScore := 0.5
		if c.reputation != nil {
			if s, _, err := c.reputation.ScorePeer(ctx, pid, overlay.QuorumOne); err == nil {
				reputationScore = s
			}
		}
		cand := PeerCandidate{ID: pid, Addrs: c.resolveAddrs(pid), Reputation: reputationScore, Stats: stats[pid]}
		if !Eligible(cand, false, floor) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// discoverManifest fetches the file's Manifest, first checking local
// storage, then trying each provider over block-exchange, keyed by
// the file's own merkle root (internal/chunkstore.Engine.LoadManifest).
func (c *Coordinator) discoverManifest(ctx context.Context, fileHash string, providers []peer.ID) (*chunkstore.Manifest, error) {
	if m, err := c.engine.LoadManifest(fileHash); err == nil {
		return m, nil
	}
	var lastErr error
	for _, pid := range providers {
		data, err := c.chunks.Request(ctx, pid, fileHash)
		if err != nil {
			lastErr = err
			continue
		}
		var m chunkstore.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			lastErr = err
			continue
		}
		if err := m.VerifySelf(); err != nil {
			lastErr = err
			continue
		}
		if err := c.engine.StoreManifest(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	if lastErr == nil {
		lastErr = errs.New(errs.KindNotFound, "no provider had the manifest for "+fileHash)
	}
	return nil, errs.Wrap(lastErr, "discover manifest")
}

type fetchResult struct {
	idx      int
	data     []byte
	err      error
	nonRetry bool
	peerID   peer.ID
	elapsed  time.Duration
}

func (c *Coordinator) fetchChunk(ctx context.Context, a Assignment, chunkSize int) fetchResult {
	start := time.Now()
	if a.HTTPURL != "" {
		data, err := c.http.Fetch(ctx, a.HTTPURL, int64(a.ChunkIndex)*int64(chunkSize), chunkSize, a.Hash)
		return fetchResult{idx: a.ChunkIndex, data: data, err: err, nonRetry: NonRetryable(err), elapsed: time.Since(start)}
	}
	stepCtx, cancel := context.WithTimeout(ctx, DefaultBlockExchangeTimeout)
	defer cancel()
	data, err := c.chunks.Request(stepCtx, a.Peer, a.Hash)
	return fetchResult{idx: a.ChunkIndex, data: data, err: err, nonRetry: NonRetryable(err), peerID: a.Peer, elapsed: time.Since(start)}
}

// Download discovers fileHash's providers and manifest, schedules
// chunk transfers across them with per-peer retry limits and HTTP
// fallback (failed chunks are reassigned without a backoff delay),
// reassembles the result to outputPath, and streams progress events
// (spec §4.4). The returned channel is closed once the download
// reaches a terminal state (completed, failed, or cancelled).
func (c *Coordinator) Download(ctx context.Context, fileHash, outputPath string, opts Options) (<-chan Event, error) {
	opts = opts.withDefaults()
	sessionID := uuid.NewString()

	metaRec, err := c.router.GetRecord(ctx, "meta:"+fileHash, overlay.QuorumOne)
	if err != nil {
		metrics.DownloadsFailed.WithLabelValues(errs.KindOf(err).String()).Inc()
		return nil, errs.Wrap(err, "fetch file metadata")
	}
	var meta FileMetadata
	if err := json.Unmarshal(metaRec.Value, &meta); err != nil {
		return nil, errs.Wrapf(errs.KindIntegrityMismatch, err, "decode file metadata")
	}

	providers, err := c.router.GetProviders(ctx, "prov:"+fileHash, opts.ProviderLimit)
	if err != nil {
		return nil, errs.Wrap(err, "fetch providers")
	}

	manifest, err := c.discoverManifest(ctx, fileHash, providers)
	if err != nil {
		return nil, err
	}

	chunkHashes := make([]string, len(manifest.Chunks))
	for i, cr := range manifest.Chunks {
		chunkHashes[i] = cr.Hash
	}
	sched := NewScheduler(chunkHashes, opts.MaxParallelChunks, opts.PeerChunkRetries, meta.HTTPMirrors)

	events := make(chan Event, 64)
	metrics.DownloadsStarted.WithLabelValues("manual").Inc()

	go c.run(ctx, sessionID, sched, manifest, outputPath, providers, opts, events)
	return events, nil
}

func (c *Coordinator) run(ctx context.Context, sessionID string, sched *Scheduler, manifest *chunkstore.Manifest, outputPath string, providers []peer.ID, opts Options, events chan<- Event) {
	defer close(events)

	var statsMu sync.Mutex
	stats := make(map[peer.ID]*PeerStats)
	for _, pid := range providers {
		stats[pid] = &PeerStats{}
	}

	results := make(chan fetchResult, opts.MaxParallelChunks)
	inFlight := 0
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: errs.ErrCancelled}
			return
		}

		statsMu.Lock()
		candidates := c.candidatesFor(ctx, providers, stats, opts.ReputationFloor)
		statsMu.Unlock()

		for _, a := range sched.Assign(candidates, opts.PreferredRegion) {
			sched.MarkStarted(a.ChunkIndex)
			events <- Event{Type: EventChunkStarted, SessionID: sessionID, ChunkIndex: a.ChunkIndex, Total: int64(manifest.ChunkSize), Source: sourceLabel(a)}
			inFlight++
			go func(a Assignment) {
				results <- c.fetchChunk(ctx, a, manifest.ChunkSize)
			}(a)
		}

		if inFlight == 0 {
			if sched.Done() {
				c.finish(sessionID, manifest, outputPath, events)
				return
			}
			if !sched.Pending() {
				events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: errs.New(errs.KindPeerUnreachable, "no candidates available and no work pending")}
				metrics.DownloadsFailed.WithLabelValues("no_candidates").Inc()
				return
			}
			select {
			case <-ctx.Done():
				events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: errs.ErrCancelled}
				return
			case <-ticker.C:
				continue
			}
		}

		select {
		case <-ctx.Done():
			events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: errs.ErrCancelled}
			return
		case r := <-results:
			inFlight--
			c.handleResult(sessionID, sched, r, manifest, stats, &statsMu, events)
			if len(sched.FailedChunks()) > 0 && !sched.Pending() && inFlight == 0 {
				events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: errs.New(errs.KindIntegrityMismatch, "one or more chunks could not be recovered")}
				metrics.DownloadsFailed.WithLabelValues("chunk_unrecoverable").Inc()
				return
			}
			if sched.Done() && inFlight == 0 {
				c.finish(sessionID, manifest, outputPath, events)
				return
			}
		}
	}
}

func sourceLabel(a Assignment) string {
	if a.HTTPURL != "" {
		return "http"
	}
	return a.Peer.String()
}

func (c *Coordinator) handleResult(sessionID string, sched *Scheduler, r fetchResult, manifest *chunkstore.Manifest, stats map[peer.ID]*PeerStats, statsMu *sync.Mutex, events chan<- Event) {
	if r.err != nil {
		sched.MarkFailed(r.idx, r.nonRetry)
		if r.peerID != "" {
			statsMu.Lock()
			if s, ok := stats[r.peerID]; ok {
				s.Failures++
			}
			statsMu.Unlock()
		}
		events <- Event{Type: EventChunkFailed, SessionID: sessionID, ChunkIndex: r.idx, Err: r.err}
		if errs.Is(r.err, errs.KindIntegrityMismatch) {
			metrics.ChunkIntegrityFailures.Inc()
		}
		return
	}

	if err := c.engine.StoreManifestChunk(manifest, r.idx, r.data); err != nil {
		sched.MarkFailed(r.idx, false)
		events <- Event{Type: EventChunkFailed, SessionID: sessionID, ChunkIndex: r.idx, Err: err}
		return
	}

	sched.MarkCompleted(r.idx)
	if r.peerID != "" {
		statsMu.Lock()
		if s, ok := stats[r.peerID]; ok {
			s.Successes++
			if r.elapsed > 0 {
				s.observeThroughput(float64(len(r.data))/r.elapsed.Seconds(), 0.3)
			}
		}
		statsMu.Unlock()
	}
	source := "http"
	if r.peerID != "" {
		source = r.peerID.String()
	}
	events <- Event{Type: EventChunkCompleted, SessionID: sessionID, ChunkIndex: r.idx, BytesRecv: int64(len(r.data)), Total: int64(manifest.ChunkSize), Source: source}
	metrics.ChunksTransferred.WithLabelValues(protocolLabel(r)).Inc()
}

func protocolLabel(r fetchResult) string {
	if r.peerID == "" {
		return "http"
	}
	return "block-exchange"
}

func (c *Coordinator) finish(sessionID string, manifest *chunkstore.Manifest, outputPath string, events chan<- Event) {
	if err := c.engine.Reassemble(manifest, outputPath); err != nil {
		events <- Event{Type: EventFileFailed, SessionID: sessionID, Err: err}
		metrics.DownloadsFailed.WithLabelValues(errs.KindOf(err).String()).Inc()
		return
	}
	events <- Event{Type: EventFileCompleted, SessionID: sessionID}
	metrics.DownloadsCompleted.Inc()
}
