package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"carwatch/config"
	"carwatch/models"
	"carwatch/scraper"
	"carwatch/storage"
)

const commandPollInterval = 2 * time.Second

// Scheduler fires crawls on a cron expression or a fixed interval and polls
// the ops database for operator commands. Commands are marked processed
// before execution so a crash mid-command never replays it.
type Scheduler struct {
	cfg  *config.Config
	ops  *storage.SQLiteStore
	orch *scraper.Orchestrator

	// StatusTrigger kicks the stale-listing sweep worker.
	StatusTrigger func()

	cron   *cron.Cron
	cancel context.CancelFunc
}

func New(cfg *config.Config, ops *storage.SQLiteStore, orch *scraper.Orchestrator) *Scheduler {
	return &Scheduler{cfg: cfg, ops: ops, orch: orch}
}

// Start launches the crawl trigger and the command poller. Blocks only on
// setup errors; the loops run in the background until Stop.
func (s *Scheduler) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	if spec := s.cfg.Scheduler.Cron; spec != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(spec, func() { s.runAll(ctx) }); err != nil {
			cancel()
			return err
		}
		s.cron.Start()
		log.Printf("[scheduler] crawls on cron %q", spec)
	} else if interval := s.cfg.Scheduler.Interval; interval > 0 {
		go s.intervalLoop(ctx, interval)
		log.Printf("[scheduler] crawls every %s", interval)
	} else {
		log.Printf("[scheduler] no cron or interval configured, command-driven only")
	}

	go s.pollCommands(ctx)
	return nil
}

// Stop halts the cron entries and both loops. Running crawls finish through
// their own context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	log.Printf("[scheduler] scheduled crawl starting")
	s.orch.RunAll(ctx)
}

func (s *Scheduler) intervalLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		commands, err := s.ops.GetPendingCommands()
		if err != nil {
			log.Printf("[scheduler] command poll failed: %v", err)
			continue
		}
		for _, cmd := range commands {
			if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
				log.Printf("[scheduler] mark command #%d failed: %v", cmd.ID, err)
				continue
			}
			log.Printf("[scheduler] executing command #%d %q", cmd.ID, cmd.Command)
			s.dispatch(ctx, cmd)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, cmd models.Command) {
	switch cmd.Command {
	case models.CmdCheckStatus:
		if s.StatusTrigger != nil {
			s.StatusTrigger()
		} else {
			log.Printf("[scheduler] no status worker wired, dropping check_status")
		}
	default:
		s.orch.HandleCommand(ctx, cmd)
	}
}
