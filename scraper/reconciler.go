package scraper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"carwatch/models"
)

// CatalogStore is the slice of the listing store the reconciler needs.
type CatalogStore interface {
	FindIdentifiers(ctx context.Context, sourceTag string) (map[string]struct{}, error)
	BulkSetStatus(ctx context.Context, urls []string, status models.Status, checkedAt time.Time) (int64, error)
}

// Snapshot accumulates the identifiers observed during one crawl. The crawl
// function records what it sees; the reconciler diffs it against the store
// afterwards.
type Snapshot struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	Errors int
}

func newSnapshot() *Snapshot {
	return &Snapshot{seen: make(map[string]struct{})}
}

// Observe records one listing identifier as present in this crawl.
func (s *Snapshot) Observe(id string) {
	s.mu.Lock()
	s.seen[id] = struct{}{}
	s.mu.Unlock()
}

// Has reports whether the identifier was already observed this crawl.
func (s *Snapshot) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// Seen returns how many distinct identifiers were observed.
func (s *Snapshot) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// CrawlFunc walks a source and observes every listing it finds. A returned
// error aborts reconciliation: a partial crawl must never mark the unseen
// remainder as removed.
type CrawlFunc func(ctx context.Context, snap *Snapshot) error

// Result summarizes one reconciled crawl.
type Result struct {
	Seen          int
	MarkedRemoved int64
	Errors        int
	Skipped       bool
}

// Reconciler runs crawls and settles their set difference against the
// catalog: anything the store knows for a source that the crawl did not see
// is marked removed. One crawl per source at a time; a second trigger while
// one is running is a logged no-op.
type Reconciler struct {
	store  CatalogStore
	guards sync.Map // source tag -> *atomic.Bool
}

func NewReconciler(store CatalogStore) *Reconciler {
	return &Reconciler{store: store}
}

func (r *Reconciler) guard(sourceTag string) *atomic.Bool {
	g, _ := r.guards.LoadOrStore(sourceTag, new(atomic.Bool))
	return g.(*atomic.Bool)
}

// Running reports whether a crawl for the source is in flight.
func (r *Reconciler) Running(sourceTag string) bool {
	return r.guard(sourceTag).Load()
}

// Reconcile snapshots the known identifiers, runs the crawl, and marks the
// difference removed. The pre-crawl snapshot means listings first seen
// mid-crawl by someone else are never swept by this run.
func (r *Reconciler) Reconcile(ctx context.Context, sourceTag string, crawl CrawlFunc) (*Result, error) {
	g := r.guard(sourceTag)
	if !g.CompareAndSwap(false, true) {
		log.Printf("[reconcile] crawl already running for %s, skipping trigger", sourceTag)
		return &Result{Skipped: true}, nil
	}
	defer g.Store(false)

	existing, err := r.store.FindIdentifiers(ctx, sourceTag)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: load identifiers: %w", sourceTag, err)
	}

	snap := newSnapshot()
	if err := crawl(ctx, snap); err != nil {
		return nil, fmt.Errorf("reconcile %s: crawl: %w", sourceTag, err)
	}

	var missing []string
	for id := range existing {
		if !snap.Has(id) {
			missing = append(missing, id)
		}
	}

	res := &Result{Seen: snap.Seen(), Errors: snap.Errors}
	if len(missing) > 0 {
		marked, err := r.store.BulkSetStatus(ctx, missing, models.StatusRemoved, time.Now())
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: mark removed: %w", sourceTag, err)
		}
		res.MarkedRemoved = marked
		log.Printf("[reconcile] %s: %d seen, %d known, %d marked removed",
			sourceTag, res.Seen, len(existing), marked)
	} else {
		log.Printf("[reconcile] %s: %d seen, %d known, nothing to remove",
			sourceTag, res.Seen, len(existing))
	}
	return res, nil
}
