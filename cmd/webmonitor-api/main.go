package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"webmonitor/internal/config"
	server "webmonitor/internal/http"
	"webmonitor/internal/jobs"
	"webmonitor/internal/migrate"
	"webmonitor/internal/scan"
	"webmonitor/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	st := store.New(db)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	var queue *jobs.Queue
	if cfg.Redis.URL != "" {
		queue, err = jobs.NewQueue(cfg.Redis.URL, logger)
		if err != nil {
			log.Fatalf("redis connect failed: %v", err)
		}
	}

	rootCtx := context.Background()

	switch *role {
	case "api":
		listen(cfg, st, queue, logger)
	case "worker":
		startWorker(rootCtx, cfg, st, queue, logger)
		select {}
	case "all":
		startWorker(rootCtx, cfg, st, queue, logger)
		listen(cfg, st, queue, logger)
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}

func listen(cfg *config.Config, st *store.Store, queue *jobs.Queue, logger *slog.Logger) {
	var pub server.Publisher
	if queue != nil {
		pub = queue
	}
	s := server.NewServer(cfg, st, pub, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// startWorker wires the scanner, executors, dispatcher, queue
// consumer, and retention reaper, and launches their loops.
func startWorker(ctx context.Context, cfg *config.Config, st *store.Store, queue *jobs.Queue, logger *slog.Logger) {
	scanFrequency := time.Duration(cfg.Scheduler.ScanFrequencyHours) * time.Hour
	scanner := scan.New(st, cfg.Crawler.UserAgent, scanFrequency, logger)
	reaper := jobs.NewReaper(cfg, st, logger)

	execs := jobs.Executors{
		Scan:       jobs.NewScanExecutor(scanner, st),
		Discovery:  jobs.NewDiscoveryExecutor(st, cfg.Crawler.UserAgent, logger),
		Extraction: jobs.NewExtractionExecutor(scanner, st),
		Comparison: jobs.NewComparisonExecutor(st),
		Cleanup:    jobs.NewCleanupExecutor(reaper),
	}
	runner := jobs.NewRunner(cfg, st, execs, logger)

	go runner.Start(ctx)
	go reaper.Start(ctx)
	if queue != nil {
		go queue.Consume(ctx, runner, st)
	}
}
