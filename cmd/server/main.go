package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"geostamp/internal/api"
	"geostamp/internal/api/handlers"
	"geostamp/internal/banner"
	"geostamp/internal/config"
	"geostamp/internal/database"
	"geostamp/internal/database/repositories"
	"geostamp/internal/discovery"
	"geostamp/internal/enrichment"
	"geostamp/internal/ingestion"
	parsers "geostamp/internal/parser"
	"geostamp/internal/realtime"

	"github.com/pterm/pterm"
)

func main() {
	// Reconfigured from LOG_LEVEL once the configuration is loaded
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	banner.Print()

	logger.Info("Initializing GeoStamp...", logger.Args("version", banner.Version))

	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	logger = pterm.DefaultLogger.WithLevel(parseLogLevel(cfg.LogLevel))
	logger.Debug("Log level set", logger.Args("level", cfg.LogLevel))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"geoip_database", cfg.GeoIP.DatabasePath,
			"sources", strings.Join(cfg.Sources.Paths, ","),
			"server_enabled", cfg.Server.Enabled,
		))

	metricsCollector := realtime.NewMetricsCollector(logger)

	// The extractor is required: a missing or unreadable database stops startup
	builder := enrichment.NewBuilder(logger).WithObserver(metricsCollector)
	if err := builder.Configure(cfg.EnrichmentContext()); err != nil {
		logger.WithCaller().Fatal("Invalid GeoIP configuration", logger.Args("error", err))
	}
	extractor, err := builder.Build()
	if err != nil {
		logger.WithCaller().Fatal("Failed to build GeoIP extractor", logger.Args("error", err))
	}
	extractor.Initialize()

	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := metricsCollector.WatchDatabase(sqlDB, "geostamp"); err != nil {
			logger.Warn("Failed to export connection pool metrics", logger.Args("error", err))
		}
	}

	logger.Debug("Initializing repositories...")
	sourceRepo := repositories.NewLogSourceRepository(db)
	eventRepo := repositories.NewEventRepository(db, logger)

	parserRegistry := parsers.NewRegistry(logger)

	logger.Debug("Registering event sources...")
	discoveryEngine := discovery.NewEngine(sourceRepo, logger,
		discovery.NewFileDetector(cfg.Sources.Paths, cfg.Sources.ParserType, parserRegistry, logger))
	if created, err := discoveryEngine.Run(); err != nil {
		logger.WithCaller().Warn("Source discovery had errors", logger.Args("error", err))
	} else {
		logger.Debug("Source discovery finished", logger.Args("new_sources", created))
	}

	coordinator := ingestion.NewCoordinator(
		sourceRepo,
		eventRepo,
		parserRegistry,
		extractor,
		metricsCollector,
		logger,
		ingestion.ProcessorOptions{
			BatchSize:      cfg.Performance.BatchSize,
			WorkerPoolSize: cfg.Performance.WorkerPoolSize,
			PollInterval:   cfg.Sources.PollInterval,
			Watch:          cfg.Sources.Watch,
		},
	)

	logger.Info("Starting ingestion engine...")
	if err := coordinator.Start(); err != nil {
		logger.WithCaller().Fatal("Failed to start ingestion coordinator", logger.Args("error", err))
	}

	ctx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	coordinator.StartSyncLoop(ctx, cfg.Performance.SourceSyncInterval)

	cleanupService := database.NewCleanupService(
		db,
		logger,
		cfg.Database.RetentionDays,
		cfg.Database.CleanupInterval,
		cfg.Database.CleanupTime,
		cfg.Database.VacuumEnabled,
		coordinator,
	)
	cleanupService.Start()

	metricsCollector.Start(cfg.Performance.RealtimeMetricsInterval)

	var webServer *api.Server
	if cfg.Server.Enabled {
		webServer = api.NewServer(&api.Config{
			Host:       cfg.Server.Host,
			Port:       cfg.Server.Port,
			Production: cfg.Server.Production,
		},
			handlers.NewEventsHandler(extractor, eventRepo, coordinator, cleanupService, logger),
			handlers.NewRealtimeHandler(metricsCollector, logger),
			logger)

		go func() {
			if err := webServer.Run(); err != nil {
				logger.WithCaller().Error("Web server error", logger.Args("error", err))
			}
		}()
	} else {
		logger.Info("Web server disabled by configuration")
	}

	logger.Info("GeoStamp is running",
		logger.Args(
			"url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port),
			"processors", coordinator.GetProcessorCount(),
		))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	// Ingestion first so no batch is left half written
	stopSync()
	coordinator.Stop()
	cleanupService.Stop()
	metricsCollector.Stop()

	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			logger.WithCaller().Error("Web server shutdown error", logger.Args("error", err))
		}
	}

	extractor.Close()
	if closer, ok := extractor.Locator().(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close GeoIP database", logger.Args("error", err))
		}
	}

	if err := database.Close(db); err != nil {
		logger.Warn("Failed to close database", logger.Args("error", err))
	}

	logger.Info("GeoStamp stopped gracefully")
}

// parseLogLevel maps LOG_LEVEL to a pterm level, defaulting to info
func parseLogLevel(level string) pterm.LogLevel {
	switch strings.ToLower(level) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}
