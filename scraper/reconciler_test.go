package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carwatch/models"
)

type fakeCatalog struct {
	mu         sync.Mutex
	known      map[string]struct{}
	marked     []string
	markStatus models.Status
	findErr    error
	markErr    error
}

func newFakeCatalog(ids ...string) *fakeCatalog {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return &fakeCatalog{known: known}
}

func (f *fakeCatalog) FindIdentifiers(ctx context.Context, sourceTag string) (map[string]struct{}, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := make(map[string]struct{}, len(f.known))
	for id := range f.known {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeCatalog) BulkSetStatus(ctx context.Context, urls []string, status models.Status, checkedAt time.Time) (int64, error) {
	if f.markErr != nil {
		return 0, f.markErr
	}
	f.mu.Lock()
	f.marked = append(f.marked, urls...)
	f.markStatus = status
	f.mu.Unlock()
	return int64(len(urls)), nil
}

func TestReconcileMarksMissingRemoved(t *testing.T) {
	store := newFakeCatalog("https://x.com/a", "https://x.com/b", "https://x.com/c")
	r := NewReconciler(store)

	res, err := r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
		snap.Observe("https://x.com/a")
		snap.Observe("https://x.com/c")
		return nil
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Seen != 2 {
		t.Fatalf("Seen = %d, want 2", res.Seen)
	}
	if res.MarkedRemoved != 1 {
		t.Fatalf("MarkedRemoved = %d, want 1", res.MarkedRemoved)
	}
	if len(store.marked) != 1 || store.marked[0] != "https://x.com/b" {
		t.Fatalf("marked = %v, want only https://x.com/b", store.marked)
	}
	if store.markStatus != models.StatusRemoved {
		t.Fatalf("marked with status %q, want removed", store.markStatus)
	}
}

func TestReconcileNothingMissing(t *testing.T) {
	store := newFakeCatalog("https://x.com/a")
	r := NewReconciler(store)

	res, err := r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
		snap.Observe("https://x.com/a")
		snap.Observe("https://x.com/new")
		return nil
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.MarkedRemoved != 0 || len(store.marked) != 0 {
		t.Fatalf("nothing should be marked, got %v", store.marked)
	}
}

func TestReconcileAbortsOnCrawlError(t *testing.T) {
	store := newFakeCatalog("https://x.com/a", "https://x.com/b")
	r := NewReconciler(store)

	crawlErr := errors.New("blocked on page 2")
	_, err := r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
		snap.Observe("https://x.com/a")
		return crawlErr
	})
	if !errors.Is(err, crawlErr) {
		t.Fatalf("expected crawl error to propagate, got %v", err)
	}
	if len(store.marked) != 0 {
		t.Fatalf("partial crawl must not mark anything removed, marked %v", store.marked)
	}
}

func TestReconcileRunGuard(t *testing.T) {
	store := newFakeCatalog()
	r := NewReconciler(store)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan *Result, 1)
	go func() {
		res, _ := r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
			close(started)
			<-release
			return nil
		})
		done <- res
	}()

	<-started
	if !r.Running("x") {
		t.Fatal("Running should report true while crawl holds the guard")
	}
	res, err := r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
		t.Error("second crawl must not run while the first holds the guard")
		return nil
	})
	if err != nil {
		t.Fatalf("concurrent trigger should be a no-op, got error %v", err)
	}
	if !res.Skipped {
		t.Fatal("concurrent trigger should report Skipped")
	}

	close(release)
	first := <-done
	if first.Skipped {
		t.Fatal("first crawl should not be skipped")
	}
	if r.Running("x") {
		t.Fatal("guard should be released after the crawl returns")
	}
}

func TestReconcileGuardIsPerSource(t *testing.T) {
	r := NewReconciler(newFakeCatalog())

	started := make(chan struct{})
	release := make(chan struct{})
	go r.Reconcile(context.Background(), "x", func(ctx context.Context, snap *Snapshot) error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	res, err := r.Reconcile(context.Background(), "y", func(ctx context.Context, snap *Snapshot) error {
		return nil
	})
	if err != nil || res.Skipped {
		t.Fatalf("different source must not be blocked, res=%+v err=%v", res, err)
	}
}
