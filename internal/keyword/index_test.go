package keyword

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/overlay"
)

type fakeRouter struct {
	mu      sync.Mutex
	records map[string]*overlay.Record
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{records: make(map[string]*overlay.Record)}
}

func (f *fakeRouter) GetRecord(ctx context.Context, key string, quorum overlay.Quorum) (*overlay.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "not found")
	}
	return rec, nil
}

func (f *fakeRouter) PutRecord(ctx context.Context, key string, rec *overlay.Record, quorum overlay.Quorum) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = rec
	return nil
}

func TestPublishKeywordCreatesRecord(t *testing.T) {
	router := newFakeRouter()
	idx := NewIndex(router, nil)

	if err := idx.publishKeyword(context.Background(), "network", "root-a"); err != nil {
		t.Fatalf("publishKeyword: %v", err)
	}

	rec, ok := router.records["idx:network"]
	if !ok {
		t.Fatal("expected idx:network record to exist")
	}
	var roots []string
	if err := json.Unmarshal(rec.Value, &roots); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(roots) != 1 || roots[0] != "root-a" {
		t.Fatalf("unexpected roots: %v", roots)
	}
}

func TestPublishKeywordAppendsWithoutDuplicating(t *testing.T) {
	router := newFakeRouter()
	idx := NewIndex(router, nil)

	if err := idx.publishKeyword(context.Background(), "network", "root-a"); err != nil {
		t.Fatalf("publishKeyword 1: %v", err)
	}
	if err := idx.publishKeyword(context.Background(), "network", "root-b"); err != nil {
		t.Fatalf("publishKeyword 2: %v", err)
	}
	if err := idx.publishKeyword(context.Background(), "network", "root-a"); err != nil {
		t.Fatalf("publishKeyword 3: %v", err)
	}

	roots, err := idx.getRoots(context.Background(), "idx:network")
	if err != nil {
		t.Fatalf("getRoots: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 deduplicated roots, got %v", roots)
	}
}

func TestSearchReturnsEmptyOnNotFound(t *testing.T) {
	idx := NewIndex(newFakeRouter(), nil)
	roots, err := idx.Search(context.Background(), "missing", time.Second)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(roots) != 0 {
		t.Fatalf("expected empty slice, got %v", roots)
	}
}

func TestSearchReturnsPublishedRoots(t *testing.T) {
	router := newFakeRouter()
	idx := NewIndex(router, nil)
	if err := idx.publishKeyword(context.Background(), "network", "root-a"); err != nil {
		t.Fatalf("publishKeyword: %v", err)
	}
	roots, err := idx.Search(context.Background(), "network", time.Second)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(roots) != 1 || roots[0] != "root-a" {
		t.Fatalf("unexpected roots: %v", roots)
	}
}

func TestPurgeStaleEmitsTimeoutForOldEntries(t *testing.T) {
	idx := NewIndex(newFakeRouter(), nil)
	var timedOut []PendingIndexUpdate
	idx.OnTimeout = func(p PendingIndexUpdate) { timedOut = append(timedOut, p) }

	idx.mu.Lock()
	idx.pending["q1"] = &PendingIndexUpdate{Keyword: "old", StartedAt: time.Now().Add(-time.Minute)}
	idx.pending["q2"] = &PendingIndexUpdate{Keyword: "fresh", StartedAt: time.Now()}
	idx.mu.Unlock()

	idx.PurgeStale(time.Now())

	if len(timedOut) != 1 || timedOut[0].Keyword != "old" {
		t.Fatalf("expected only the stale entry to time out, got %v", timedOut)
	}
	idx.mu.Lock()
	_, stillPending := idx.pending["q2"]
	idx.mu.Unlock()
	if !stillPending {
		t.Fatal("expected the fresh entry to remain pending")
	}
}
