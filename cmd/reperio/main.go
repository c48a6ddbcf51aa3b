package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/queue"
	"github.com/ternarybob/reperio/internal/services/analyzer"
	"github.com/ternarybob/reperio/internal/services/orchestrator"
	"github.com/ternarybob/reperio/internal/services/queries"
	"github.com/ternarybob/reperio/internal/services/scraper"
	"github.com/ternarybob/reperio/internal/services/search"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
	"github.com/ternarybob/reperio/internal/workers"
)

var (
	configFile   = flag.String("config", "", "Configuration file path")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Reperio version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> file -> env)
	// 2. Initialize logger
	// 3. Print banner
	// 4. Wire storage, services, and the queue engine
	path := *configFile
	if path == "" {
		path = *configFileC
	}
	if path == "" {
		if _, err := os.Stat("reperio.toml"); err == nil {
			path = "reperio.toml"
		}
	}

	var err error
	config, err = common.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("config_file", path).
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Msg("Application configuration loaded")

	if err := run(); err != nil {
		logger.Fatal().Err(err).Msg("Application failed")
	}
}

func run() error {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	jobStorage := badgerstore.NewJobStorage(db, logger)
	historyStorage := badgerstore.NewHistoryStorage(db, logger)

	generator, err := queries.NewGeminiGenerator(&config.Gemini, logger)
	if err != nil {
		return fmt.Errorf("initialize query generator: %w", err)
	}
	searcher, err := search.NewGeminiSearcher(&config.Gemini, logger)
	if err != nil {
		return fmt.Errorf("initialize web searcher: %w", err)
	}
	opportunityAnalyzer, err := analyzer.NewClaudeAnalyzer(&config.Claude, logger)
	if err != nil {
		return fmt.Errorf("initialize analyzer: %w", err)
	}
	pageScraper := scraper.NewPageScraper(config.Scraper, logger)

	searchOrchestrator := orchestrator.NewOrchestrator(
		config.Orchestrator,
		generator,
		searcher,
		opportunityAnalyzer,
		orchestrator.NewExecutionTracker(),
		historyStorage,
		logger,
	)

	handlers := workers.BuildHandlers(workers.Deps{
		Orchestrator: searchOrchestrator,
		Scraper:      pageScraper,
		Storage:      jobStorage,
		Logger:       logger,
	})

	processor, err := queue.NewProcessor(db.Raw(), jobStorage, config, handlers, logger)
	if err != nil {
		return fmt.Errorf("initialize processor: %w", err)
	}

	ctx := context.Background()
	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}

	// Nightly maintenance: trim completed records and sweep stale executions.
	if _, err := processor.ScheduleRecurringJob(models.JobTypeCleanup, nil, "0 3 * * *"); err != nil {
		logger.Warn().Err(err).Msg("Failed to schedule cleanup job")
	}

	logger.Info().Msg("Reperio ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
	if err := processor.Cleanup(); err != nil {
		logger.Error().Err(err).Msg("Processor shutdown failed")
	}

	logger.Info().Msg("Reperio stopped")
	return nil
}
