package download

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// DefaultMaxParallelChunks bounds concurrent chunk transfers per file
// (spec §4.4/§6).
const DefaultMaxParallelChunks = 4

// DefaultPeerChunkRetries is how many attempts a single peer gets for
// a single chunk before the scheduler tries someone else (spec §4.4).
const DefaultPeerChunkRetries = 3

// chunkState is one chunk's scheduling record.
type chunkState struct {
	index   int
	hash    string
	state   ChunkState
	peer    peer.ID
	httpURL string

	attempts      map[peer.ID]int
	exhausted     map[peer.ID]bool // non-retryable failure against this peer
	demotedMirror map[string]bool
}

// Assignment is one (chunk, source) pairing the scheduler hands to the
// caller to execute.
type Assignment struct {
	ChunkIndex int
	Hash       string
	Peer       peer.ID // zero value when HTTPURL is set instead
	HTTPURL    string
}

// Scheduler implements spec §4.4's chunk state machine: Unassigned ->
// Assigned(peer|http) -> Downloading -> Completed|Failed, with
// per-peer retry limits, HTTP fallback once every known peer is
// exhausted, and a file-level reassignment budget.
type Scheduler struct {
	mu sync.Mutex

	chunks           []*chunkState
	maxParallel      int
	peerChunkRetries int
	httpMirrors      []string

	activeCount        int
	reassignments      int
	maxReassignments   int
}

// NewScheduler builds a Scheduler for a file whose chunk hashes (in
// order) are chunkHashes.
func NewScheduler(chunkHashes []string, maxParallel, peerChunkRetries int, httpMirrors []string) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelChunks
	}
	if peerChunkRetries <= 0 {
		peerChunkRetries = DefaultPeerChunkRetries
	}
	chunks := make([]*chunkState, len(chunkHashes))
	for i, h := range chunkHashes {
		chunks[i] = &chunkState{
			index:         i,
			hash:          h,
			attempts:      make(map[peer.ID]int),
			exhausted:     make(map[peer.ID]bool),
			demotedMirror: make(map[string]bool),
		}
	}
	return &Scheduler{
		chunks:           chunks,
		maxParallel:      maxParallel,
		peerChunkRetries: peerChunkRetries,
		httpMirrors:      httpMirrors,
		// A generous but bounded budget: each chunk may be reassigned a
		// few times beyond its own per-peer retry count before the file
		// gives up churning (spec §4.4: "file-level retry budget caps
		// total reassignment churn").
		maxReassignments: len(chunks) * peerChunkRetries * 4,
	}
}

func (s *Scheduler) busyPeers() map[peer.ID]bool {
	busy := make(map[peer.ID]bool)
	for _, c := range s.chunks {
		if (c.state == ChunkAssignedPeer || c.state == ChunkDownloading) && c.peer != "" {
			busy[c.peer] = true
		}
	}
	return busy
}

func (s *Scheduler) nextMirror(c *chunkState) string {
	for _, m := range s.httpMirrors {
		if !c.demotedMirror[m] {
			return m
		}
	}
	return ""
}

// Assign fills idle slots (up to maxParallel concurrent transfers)
// with the best-scoring eligible idle candidate for each assignable
// chunk, falling back to an HTTP mirror once every known candidate is
// exhausted for that chunk.
func (s *Scheduler) Assign(candidates []PeerCandidate, preferredRegion string) []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := s.maxParallel - s.activeCount
	if slots <= 0 {
		return nil
	}

	ranked := make([]PeerCandidate, len(candidates))
	copy(ranked, candidates)
	sort.Slice(ranked, func(i, j int) bool { return Score(ranked[i], preferredRegion) > Score(ranked[j], preferredRegion) })

	busy := s.busyPeers()
	var out []Assignment

	for _, c := range s.chunks {
		if slots <= 0 {
			break
		}
		if c.state != ChunkUnassigned {
			continue
		}

		picked := false
		for _, cand := range ranked {
			if busy[cand.ID] || c.exhausted[cand.ID] {
				continue
			}
			if c.attempts[cand.ID] >= s.peerChunkRetries {
				continue
			}
			c.state = ChunkAssignedPeer
			c.peer = cand.ID
			busy[cand.ID] = true
			out = append(out, Assignment{ChunkIndex: c.index, Hash: c.hash, Peer: cand.ID})
			slots--
			picked = true
			break
		}
		if picked {
			continue
		}

		if s.allCandidatesExhausted(c, ranked) {
			if url := s.nextMirror(c); url != "" {
				c.state = ChunkAssignedHTTP
				c.httpURL = url
				out = append(out, Assignment{ChunkIndex: c.index, Hash: c.hash, HTTPURL: url})
				slots--
			} else {
				c.state = ChunkFailed
			}
		}
	}

	s.activeCount += len(out)
	return out
}

func (s *Scheduler) allCandidatesExhausted(c *chunkState, candidates []PeerCandidate) bool {
	if len(candidates) == 0 {
		return true
	}
	for _, cand := range candidates {
		if c.exhausted[cand.ID] {
			continue
		}
		if c.attempts[cand.ID] < s.peerChunkRetries {
			return false
		}
	}
	return true
}

// MarkStarted transitions an assigned chunk into Downloading.
func (s *Scheduler) MarkStarted(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[idx].state = ChunkDownloading
}

// MarkCompleted transitions a downloading chunk to Completed and frees
// its slot.
func (s *Scheduler) MarkCompleted(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[idx]
	c.state = ChunkCompleted
	s.activeCount--
}

// MarkFailed records a failed attempt against the chunk's current
// source. nonRetryable marks the source permanently unusable for this
// chunk (a 404-equivalent, spec §4.4). The chunk returns to
// Unassigned so the next Assign call can pick a different source,
// unless the file-level reassignment budget has been exceeded, in
// which case it is marked permanently Failed. A chunk whose peers are
// all exhausted and that has no mirror left is marked Failed by the
// next Assign call.
func (s *Scheduler) MarkFailed(idx int, nonRetryable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chunks[idx]
	s.activeCount--

	if c.state == ChunkAssignedHTTP {
		c.demotedMirror[c.httpURL] = true
		c.httpURL = ""
	} else if c.peer != "" {
		c.attempts[c.peer]++
		if nonRetryable {
			c.exhausted[c.peer] = true
		}
	}

	s.reassignments++
	if s.reassignments > s.maxReassignments {
		c.state = ChunkFailed
		return
	}
	c.state = ChunkUnassigned
	c.peer = ""
}

// Done reports whether every chunk has completed.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.state != ChunkCompleted {
			return false
		}
	}
	return true
}

// FailedChunks returns the indices of permanently failed chunks.
func (s *Scheduler) FailedChunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, c := range s.chunks {
		if c.state == ChunkFailed {
			out = append(out, c.index)
		}
	}
	return out
}

// Pending reports whether any chunk is still in flight or assignable,
// i.e. the scheduler has more work to offer once peers become
// available (distinct from Done/FailedChunks: a chunk can be
// Unassigned while the caller waits for new candidates).
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		switch c.state {
		case ChunkUnassigned, ChunkAssignedPeer, ChunkAssignedHTTP, ChunkDownloading:
			return true
		}
	}
	return false
}
