package workers

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"carwatch/config"
	"carwatch/models"
	"carwatch/status"
	"carwatch/storage"
)

const defaultStatusBatch = 25

// StatusWorker periodically re-checks listings that have not been seen by a
// crawl in a while and records their current status. An external Trigger
// starts a sweep immediately without waiting for the ticker.
type StatusWorker struct {
	catalog *storage.PostgresStore
	ops     *storage.SQLiteStore
	checker *status.Checker
	cfg     *config.Config

	triggerCh chan struct{}
}

func NewStatusWorker(catalog *storage.PostgresStore, ops *storage.SQLiteStore,
	checker *status.Checker, cfg *config.Config) *StatusWorker {
	return &StatusWorker{
		catalog:   catalog,
		ops:       ops,
		checker:   checker,
		cfg:       cfg,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sweep. Never blocks; a trigger while one is
// already queued collapses into it.
func (w *StatusWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run loops until the context ends. interval is the sweep cadence,
// batchSize caps how many listings one sweep touches.
func (w *StatusWorker) Run(ctx context.Context, interval time.Duration, batchSize int) {
	if batchSize <= 0 {
		batchSize = defaultStatusBatch
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[status-worker] running, sweep every %s, batch %d", interval, batchSize)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[status-worker] stopping")
			return
		case <-ticker.C:
		case <-w.triggerCh:
			log.Printf("[status-worker] sweep triggered")
		}
		w.sweep(ctx, batchSize)
	}
}

// staleAfter is the shortest configured staleness window across sources, so
// the most aggressive source decides when the sweep starts looking.
func (w *StatusWorker) staleAfter() time.Duration {
	stale := 7 * 24 * time.Hour
	for _, src := range w.cfg.Sources {
		if src.StaleAfter > 0 && src.StaleAfter < stale {
			stale = src.StaleAfter
		}
	}
	return stale
}

func (w *StatusWorker) sweep(ctx context.Context, batchSize int) {
	listings, err := w.catalog.StaleListings(ctx, w.staleAfter(), batchSize)
	if err != nil {
		log.Printf("[status-worker] stale query failed: %v", err)
		return
	}
	if len(listings) == 0 {
		return
	}
	log.Printf("[status-worker] sweeping %d stale listings", len(listings))

	changed := 0
	for _, l := range listings {
		if ctx.Err() != nil {
			return
		}

		st, err := w.checker.Classify(ctx, l.URL)
		if err != nil {
			log.Printf("[status-worker] check %s failed: %v", l.URL, err)
			continue
		}
		if err := w.catalog.SetStatus(ctx, l.URL, st, time.Now()); err != nil {
			log.Printf("[status-worker] store %s failed: %v", l.URL, err)
			continue
		}
		if st != l.Status {
			changed++
			log.Printf("[status-worker] %s: %s -> %s", l.URL, l.Status, st)
		}

		// pace the checks like a bored human clicking through tabs
		if err := sleepCtx(ctx, 2*time.Second+time.Duration(rand.Int63n(int64(3*time.Second)))); err != nil {
			return
		}
	}

	msg := fmt.Sprintf("status sweep: %d checked, %d changed", len(listings), changed)
	log.Printf("[status-worker] %s", msg)
	if err := w.ops.Log(nil, models.LogLevelInfo, msg, ""); err != nil {
		log.Printf("[status-worker] ops log failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
