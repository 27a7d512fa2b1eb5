// Package download implements the multi-source download coordinator
// of spec §4.4: provider discovery, peer scoring, a per-chunk
// scheduler with retry/backoff and HTTP fallback, and a progress
// event stream.
package download

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// FileMetadata is the discovery summary stored at `meta:{merkle_root}`
// (spec §3): enough to locate and validate a file, but not the
// per-chunk hash list (that travels in the full Manifest, fetched
// peer-to-peer — see internal/chunkstore.Engine.LoadManifest).
type FileMetadata struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunk_count"`
	ChunkSize   int       `json:"chunk_size"`
	MerkleRoot  string    `json:"merkle_root"`
	HTTPMirrors []string  `json:"http_mirrors,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChunkState is a chunk's position in the scheduler's state machine
// (spec §4.4).
type ChunkState int

const (
	ChunkUnassigned ChunkState = iota
	ChunkAssignedPeer
	ChunkAssignedHTTP
	ChunkDownloading
	ChunkCompleted
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkUnassigned:
		return "unassigned"
	case ChunkAssignedPeer:
		return "assigned_peer"
	case ChunkAssignedHTTP:
		return "assigned_http"
	case ChunkDownloading:
		return "downloading"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventType names one of the progress events spec §4.4 requires the
// coordinator to emit.
type EventType string

const (
	EventChunkStarted   EventType = "chunk_started"
	EventChunkProgress  EventType = "chunk_progress"
	EventChunkCompleted EventType = "chunk_completed"
	EventChunkFailed    EventType = "chunk_failed"
	EventFileCompleted  EventType = "file_completed"
	EventFileFailed     EventType = "file_failed"
)

// Event is one entry in the coordinator's lazy progress stream. It is
// not a historical log: a cancelled or completed download's channel is
// simply closed, per spec §4.4.
type Event struct {
	Type       EventType
	SessionID  string // identifies the Download call this event belongs to
	ChunkIndex int
	BytesRecv  int64
	Total      int64
	Source     string // peer ID string, "http", or empty for file-level events
	Err        error
}

// PeerStats tracks this-session experience with one peer, feeding the
// scorer's recent-success-rate and throughput terms (spec §4.4).
type PeerStats struct {
	Successes        int
	Failures         int
	ThroughputEWMA   float64 // bytes/sec
	throughputPrimed bool
}

// observeThroughput folds a completed transfer's rate into the EWMA
// with smoothing factor alpha, matching the convention already used
// for reachability confidence elsewhere in this codebase.
func (s *PeerStats) observeThroughput(bytesPerSec float64, alpha float64) {
	if !s.throughputPrimed {
		s.ThroughputEWMA = bytesPerSec
		s.throughputPrimed = true
		return
	}
	s.ThroughputEWMA = alpha*bytesPerSec + (1-alpha)*s.ThroughputEWMA
}

// successRate returns this-session success rate, defaulting to a
// neutral 0.5 before any attempts have been observed.
func (s *PeerStats) successRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0.5
	}
	return float64(s.Successes) / float64(total)
}

// PeerCandidate is one provider the scheduler may assign chunks to.
type PeerCandidate struct {
	ID         peer.ID
	Addrs      []string
	Reputation float64
	Region     string
	Stats      *PeerStats
}
