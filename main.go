package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carwatch/browser"
	"carwatch/captcha"
	"carwatch/config"
	"carwatch/httputil"
	"carwatch/identity"
	"carwatch/logging"
	"carwatch/notify"
	"carwatch/relay"
	"carwatch/scheduler"
	"carwatch/scraper"
	"carwatch/status"
	"carwatch/storage"
	"carwatch/vpn"
	"carwatch/workers"
)

var (
	crawlNow = flag.Bool("crawl", false, "Run a full crawl once and exit")
	crawlSrc = flag.String("source", "", "With -crawl, limit to one source tag")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("carwatch.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting carwatch...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for tag, src := range cfg.Sources {
		log.Printf("  - %s (%s)", src.Name, tag)
	}

	ctx := context.Background()

	catalog, err := storage.NewPostgresStore(ctx, cfg.Postgres.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer catalog.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.DBURL))

	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer ops.Close()
	log.Printf("Ops database: %s", cfg.DBPath)

	var proxyURL string
	if len(cfg.Browser.Proxies) > 0 {
		proxyURL = cfg.Browser.Proxies[0]
	}
	clients := httputil.NewClients(proxyURL)

	pool := identity.NewPool(cfg.Browser.Proxies, cfg.Browser.UserAgents)
	manager := browser.NewManager(pool)
	defer manager.Stop()
	detector := browser.NewDetector(nil)

	// manual captcha path: relay store + HTTP endpoints + telegram links
	sessions := relay.NewStore(relay.DefaultTTL)
	telegram := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, clients.API)
	var archive relay.Archiver
	if cfg.Archive.Bucket != "" {
		a, err := storage.NewScreenshotArchive(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			log.Printf("Warning: screenshot archive disabled: %v", err)
		} else {
			archive = a
			log.Printf("Screenshot archive: %s", cfg.Archive.Bucket)
		}
	}
	rel := relay.New(sessions, telegram, archive, detector, cfg.Relay.AppURL)

	var manual captcha.ManualRelay
	if cfg.Relay.AppURL != "" && telegram.IsEnabled() {
		manual = rel
	} else {
		log.Println("Manual captcha relay disabled (needs APP_URL and Telegram credentials)")
	}
	solver := captcha.NewSolver(cfg.Solver.APIKey, cfg.Solver.BaseURL, clients.API, cfg.Solver.Timeout)
	resolver := captcha.NewResolver(solver, manual, rel)

	nav := browser.NewController(detector, resolver, cfg.Browser.NavTimeout)

	var tunnel *vpn.ExpressVPN
	if cfg.VPN.AutoConnect {
		tunnel = vpn.NewExpressVPN(&vpn.Config{AutoConnect: true, Region: cfg.VPN.Region})
		if err := tunnel.EnsureConnected(); err != nil {
			log.Printf("Warning: VPN not connected: %v", err)
		}
	}

	orchestrator := scraper.NewOrchestrator(cfg, catalog, ops, manager, nav)
	if tunnel != nil {
		orchestrator.SetIPRotator(tunnel)
	}
	for _, src := range cfg.Sources {
		ex, err := scraper.NewGenericExtractor(src)
		if err != nil {
			log.Fatalf("Source %s misconfigured: %v", src.Tag, err)
		}
		orchestrator.Register(ex)
	}

	if *crawlNow {
		if *crawlSrc != "" {
			if err := orchestrator.RunSource(ctx, *crawlSrc); err != nil {
				log.Fatalf("Crawl failed: %v", err)
			}
		} else {
			orchestrator.RunAll(ctx)
		}
		log.Println("Crawl complete!")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	relayServer := relay.NewServer(cfg.Relay.Addr, sessions)
	relayServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		relayServer.Shutdown(shutdownCtx)
	}()

	checker := status.NewChecker(manager, nav, detector, clients.Scraping, cfg.Browser.MaxAttempts)
	statusWorker := workers.NewStatusWorker(catalog, ops, checker, cfg)
	go statusWorker.Run(ctx, 30*time.Minute, 25)
	log.Println("Status worker started")

	sched := scheduler.New(cfg, ops, orchestrator)
	sched.StatusTrigger = statusWorker.Trigger
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
