package keyword

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/overlay"
)

// PendingStaleness is how long an in-flight publish may remain
// unresolved before it is purged as timed out (spec §4.8).
const PendingStaleness = 30 * time.Second

// PendingIndexUpdate correlates a keyword GET with its follow-on PUT,
// per spec §4.8's pending-query tracking map.
type PendingIndexUpdate struct {
	Keyword   string
	Key       string
	NewRoot   string
	StartedAt time.Time
}

// Router is the subset of overlay.Router the index needs, named as an
// interface so the keyword package can be tested without a live DHT.
type Router interface {
	GetRecord(ctx context.Context, key string, quorum overlay.Quorum) (*overlay.Record, error)
	PutRecord(ctx context.Context, key string, rec *overlay.Record, quorum overlay.Quorum) error
}

// Signer produces the signature a published record needs; kept
// separate from Router so callers can reuse whatever key-holder they
// already have (spec §4.1 requires every record to be signed).
type Signer func(rec *overlay.Record) error

// Index maintains keyword -> []merkle_root DHT records (spec §4.8).
type Index struct {
	router Router
	sign   Signer
	log    *logrus.Entry

	mu      sync.Mutex
	pending map[string]*PendingIndexUpdate

	// OnTimeout, if set, is invoked for every pending entry purged as
	// stale (spec §4.8: "purging emits a timeout event").
	OnTimeout func(PendingIndexUpdate)
}

// NewIndex builds an Index backed by router, signing new records with
// sign.
func NewIndex(router Router, sign Signer) *Index {
	return &Index{
		router:  router,
		sign:    sign,
		log:     logging.For("keyword"),
		pending: make(map[string]*PendingIndexUpdate),
	}
}

func recordKeyFor(kw string) string { return "idx:" + kw }

func newQueryID() string {
	return uuid.NewString()
}

// PublishFile extracts keywords from filename and publishes root under
// each, per spec §4.8's publish flow.
func (x *Index) PublishFile(ctx context.Context, filename, root string) {
	for _, kw := range Extract(filename) {
		if err := x.publishKeyword(ctx, kw, root); err != nil {
			x.log.WithError(err).WithField("keyword", kw).Warn("keyword index publish failed")
		}
	}
}

func (x *Index) publishKeyword(ctx context.Context, kw, root string) error {
	key := recordKeyFor(kw)
	queryID := newQueryID()

	x.mu.Lock()
	x.pending[queryID] = &PendingIndexUpdate{Keyword: kw, Key: key, NewRoot: root, StartedAt: time.Now()}
	x.mu.Unlock()
	defer x.clearPending(queryID)

	roots, err := x.getRoots(ctx, key)
	if err != nil {
		return err
	}

	for _, r := range roots {
		if r == root {
			return nil // already present
		}
	}
	roots = append(roots, root)

	encoded, err := json.Marshal(roots)
	if err != nil {
		return errs.Wrap(err, "encode keyword index record")
	}
	if len(encoded) > overlay.MaxRecordBytes {
		x.log.WithField("keyword", kw).Warn("keyword index saturated, dropping update")
		return errs.New(errs.KindQuotaExceeded, "keyword index record exceeds 2048 byte cap")
	}

	rec := &overlay.Record{Key: key, Value: encoded, Timestamp: time.Now()}
	if x.sign != nil {
		if err := x.sign(rec); err != nil {
			return err
		}
	}
	return x.router.PutRecord(ctx, key, rec, overlay.QuorumOne)
}

func (x *Index) getRoots(ctx context.Context, key string) ([]string, error) {
	rec, err := x.router.GetRecord(ctx, key, overlay.QuorumOne)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var roots []string
	if err := json.Unmarshal(rec.Value, &roots); err != nil {
		return nil, errs.Wrapf(errs.KindIntegrityMismatch, err, "decode keyword index record")
	}
	return roots, nil
}

func (x *Index) clearPending(queryID string) {
	x.mu.Lock()
	delete(x.pending, queryID)
	x.mu.Unlock()
}

// PurgeStale drops pending entries older than PendingStaleness,
// invoking OnTimeout for each (spec §4.8's slow purge timer).
func (x *Index) PurgeStale(now time.Time) {
	x.mu.Lock()
	var stale []PendingIndexUpdate
	for id, p := range x.pending {
		if now.Sub(p.StartedAt) > PendingStaleness {
			stale = append(stale, *p)
			delete(x.pending, id)
		}
	}
	x.mu.Unlock()

	for _, p := range stale {
		if x.OnTimeout != nil {
			x.OnTimeout(p)
		}
	}
}

// Search performs search_by_keyword: a single DHT GET returning the
// stored merkle roots, or an empty slice on NotFound (spec §4.8).
func (x *Index) Search(ctx context.Context, kw string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	roots, err := x.getRoots(ctx, recordKeyFor(kw))
	if err != nil {
		return nil, err
	}
	if roots == nil {
		return []string{}, nil
	}
	return roots, nil
}
