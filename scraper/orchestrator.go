package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"carwatch/browser"
	"carwatch/config"
	"carwatch/identity"
	"carwatch/models"
	"carwatch/storage"
)

// maxIndexPages bounds a runaway pagination loop when a source keeps
// claiming more pages.
const maxIndexPages = 100

// ErrSourceBlocked marks a crawl that died on the index because every
// navigation attempt came back blocked. Distinct from parse errors so the
// caller can escalate to an exit-IP rotation.
var ErrSourceBlocked = errors.New("blocked on every navigation attempt")

// IPRotator swaps the crawl's exit address when a source blocks every
// proxy in the pool.
type IPRotator interface {
	RotateIP() error
}

// Orchestrator drives full crawls: per source it walks the index pages,
// touches every listing it sees, visits new listings for a full parse, and
// reconciles the catalog afterwards. Run records go to the ops database,
// with a durable mirror next to the listings.
type Orchestrator struct {
	cfg     *config.Config
	catalog *storage.PostgresStore
	ops     *storage.SQLiteStore
	manager *browser.Manager
	nav     *browser.Controller
	rec     *Reconciler

	extractors map[string]Extractor
	paused     atomic.Bool
	rotator    IPRotator
}

func NewOrchestrator(cfg *config.Config, catalog *storage.PostgresStore, ops *storage.SQLiteStore,
	manager *browser.Manager, nav *browser.Controller) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		catalog:    catalog,
		ops:        ops,
		manager:    manager,
		nav:        nav,
		rec:        NewReconciler(catalog),
		extractors: make(map[string]Extractor),
	}
}

// Register wires a source extractor. Sources without a matching config
// entry are registered but never scheduled.
func (o *Orchestrator) Register(ex Extractor) {
	o.extractors[ex.Tag()] = ex
}

// SetIPRotator arms block escalation: a run that ends in ErrSourceBlocked
// triggers one exit-IP rotation before the next run.
func (o *Orchestrator) SetIPRotator(r IPRotator) { o.rotator = r }

func (o *Orchestrator) Pause()       { o.paused.Store(true) }
func (o *Orchestrator) Resume()      { o.paused.Store(false) }
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// RunAll crawls every configured source sequentially. Source failures are
// logged and do not stop the remaining sources.
func (o *Orchestrator) RunAll(ctx context.Context) {
	for tag := range o.cfg.Sources {
		if ctx.Err() != nil {
			return
		}
		if err := o.RunSource(ctx, tag); err != nil {
			log.Printf("[crawl] source %s failed: %v", tag, err)
		}
	}
}

// RunSource runs one reconciled crawl for the source.
func (o *Orchestrator) RunSource(ctx context.Context, tag string) error {
	if o.Paused() {
		log.Printf("[crawl] paused, skipping %s", tag)
		return nil
	}
	src, ok := o.cfg.Sources[tag]
	if !ok {
		return fmt.Errorf("crawl: no config for source %q", tag)
	}
	ex, ok := o.extractors[tag]
	if !ok {
		return fmt.Errorf("crawl: no extractor registered for source %q", tag)
	}
	if o.rec.Running(tag) {
		log.Printf("[crawl] %s already running, skipping trigger", tag)
		return nil
	}

	run := &models.CrawlRun{
		SourceTag: tag,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return fmt.Errorf("crawl %s: create run: %w", tag, err)
	}
	run.ID = runID
	// mirror carries its own id, the catalog assigns one
	mirror := *run
	if err := o.catalog.CreateCrawlRun(ctx, &mirror); err != nil {
		log.Printf("[crawl] run mirror failed (continuing): %v", err)
	}
	o.ops.Log(&runID, models.LogLevelInfo, "crawl started", tag)
	log.Printf("[crawl] %s: run %d started", tag, runID)

	newCount := 0
	res, err := o.rec.Reconcile(ctx, tag, func(ctx context.Context, snap *Snapshot) error {
		n, crawlErr := o.crawlSource(ctx, src, ex, snap)
		newCount = n
		return crawlErr
	})

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorsCount++
		o.ops.Log(&runID, models.LogLevelError, fmt.Sprintf("crawl failed: %v", err), tag)
		o.escalateBlock(tag, err)
	} else if res.Skipped {
		run.Status = models.RunStatusCompleted
		o.ops.Log(&runID, models.LogLevelWarn, "crawl skipped, another run in flight", tag)
	} else {
		run.Status = models.RunStatusCompleted
		run.ListingsSeen = res.Seen
		run.ListingsNew = newCount
		run.MarkedRemoved = int(res.MarkedRemoved)
		run.ErrorsCount = res.Errors
		o.ops.Log(&runID, models.LogLevelInfo,
			fmt.Sprintf("crawl finished: %d seen, %d new, %d removed, %d errors",
				res.Seen, newCount, res.MarkedRemoved, res.Errors), tag)
	}
	if updErr := o.ops.UpdateRun(run); updErr != nil {
		log.Printf("[crawl] run update failed: %v", updErr)
	}
	id := mirror.ID
	mirror = *run
	mirror.ID = id
	if updErr := o.catalog.UpdateCrawlRun(ctx, &mirror); updErr != nil {
		log.Printf("[crawl] run mirror update failed (continuing): %v", updErr)
	}
	if statsErr := o.ops.UpdateSourceStats(tag, run); statsErr != nil {
		log.Printf("[crawl] stats update failed: %v", statsErr)
	}
	return err
}

// escalateBlock rotates the exit IP after a run that could not get past
// blocks at all. Parse failures and the like are not worth a reconnect.
func (o *Orchestrator) escalateBlock(tag string, err error) {
	if o.rotator == nil || !errors.Is(err, ErrSourceBlocked) {
		return
	}
	log.Printf("[crawl] %s blocked across all attempts, rotating exit IP", tag)
	if rotErr := o.rotator.RotateIP(); rotErr != nil {
		log.Printf("[crawl] ip rotation failed: %v", rotErr)
	}
}

// crawlSource walks the index and returns how many previously unknown
// listings it stored in full.
func (o *Orchestrator) crawlSource(ctx context.Context, src *config.SourceConfig, ex Extractor, snap *Snapshot) (int, error) {
	session, err := o.manager.Acquire(ctx, browser.Options{Headless: true, Isolated: true})
	if err != nil {
		return 0, err
	}
	defer o.manager.Release(session)

	indexPage, err := session.NewPage(ctx)
	if err != nil {
		return 0, err
	}
	detailPage, err := session.NewPage(ctx)
	if err != nil {
		return 0, err
	}

	newCount := 0
	for pageNum := 1; pageNum <= maxIndexPages; pageNum++ {
		if ctx.Err() != nil {
			return newCount, ctx.Err()
		}

		url := ex.IndexURL(pageNum)
		if !o.nav.Navigate(ctx, indexPage, url, o.cfg.Browser.MaxAttempts) {
			return newCount, fmt.Errorf("index page %d unreachable: %s: %w", pageNum, url, ErrSourceBlocked)
		}
		parsed, err := ex.ParseIndex(ctx, indexPage)
		if err != nil {
			return newCount, fmt.Errorf("parse index page %d: %w", pageNum, err)
		}
		log.Printf("[crawl] %s: page %d, %d entries", src.Tag, pageNum, len(parsed.Entries))

		for _, entry := range parsed.Entries {
			id := identity.CanonicalURL(entry.Identifier)
			if snap.Has(id) {
				continue
			}
			snap.Observe(id)

			isNew, err := o.processEntry(ctx, src, ex, detailPage, id, entry)
			if err != nil {
				snap.Errors++
				log.Printf("[crawl] %s: listing %s: %v", src.Tag, id, err)
				continue
			}
			if isNew {
				newCount++
			}
		}

		if !parsed.HasMore {
			break
		}
		if err := o.humanDelay(ctx, src); err != nil {
			return newCount, err
		}
	}
	return newCount, nil
}

// processEntry touches a known listing or fully parses a new one.
func (o *Orchestrator) processEntry(ctx context.Context, src *config.SourceConfig, ex Extractor,
	detailPage playwright.Page, id string, entry models.IndexEntry) (bool, error) {

	existing, err := o.catalog.GetListing(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}

	now := time.Now()
	if existing != nil {
		// seen again on the index: refresh activity, keep stored detail
		return false, o.catalog.UpsertListing(ctx, &models.Listing{
			URL:           id,
			SourceTag:     src.Tag,
			Title:         entry.Title,
			Status:        models.StatusActive,
			LastCheckedAt: now,
		})
	}

	if err := o.humanDelay(ctx, src); err != nil {
		return false, err
	}
	if !o.nav.Navigate(ctx, detailPage, id, o.cfg.Browser.MaxAttempts) {
		return false, fmt.Errorf("detail page unreachable")
	}
	raw, err := ex.ParseListing(ctx, detailPage)
	if err != nil {
		return false, fmt.Errorf("parse detail: %w", err)
	}

	return true, o.catalog.UpsertListing(ctx, &models.Listing{
		URL:           id,
		SourceTag:     src.Tag,
		Title:         raw.Title,
		Brand:         raw.Brand,
		Model:         raw.Model,
		Year:          raw.Year,
		Price:         raw.Price,
		Currency:      raw.Currency,
		Mileage:       raw.Mileage,
		Description:   raw.Description,
		Photos:        raw.Photos,
		Status:        models.StatusActive,
		RawData:       raw.Data,
		FirstSeenAt:   now,
		LastCheckedAt: now,
	})
}

func (o *Orchestrator) humanDelay(ctx context.Context, src *config.SourceConfig) error {
	min, max := src.MinDelay, src.MaxDelay
	if max <= min {
		max = min + time.Second
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HandleCommand executes one queued operator command.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd models.Command) {
	params, err := o.ops.ParseCommandParams(&cmd)
	if err != nil {
		log.Printf("[crawl] bad command params for #%d: %v", cmd.ID, err)
		return
	}

	switch cmd.Command {
	case models.CmdCrawlNow:
		o.RunAll(ctx)
	case models.CmdCrawlSource:
		if params == nil || params.Source == "" {
			log.Printf("[crawl] crawl_source command #%d missing source", cmd.ID)
			return
		}
		if err := o.RunSource(ctx, params.Source); err != nil {
			log.Printf("[crawl] command crawl of %s failed: %v", params.Source, err)
		}
	case models.CmdPause:
		o.Pause()
		log.Printf("[crawl] paused by command")
	case models.CmdResume:
		o.Resume()
		log.Printf("[crawl] resumed by command")
	default:
		// check_status and friends are routed by the scheduler
		log.Printf("[crawl] unhandled command type %q", cmd.Command)
	}
}
