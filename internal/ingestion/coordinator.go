package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geostamp/internal/database/models"
	"geostamp/internal/database/repositories"
	"geostamp/internal/enrichment"
	parsers "geostamp/internal/parser"

	"github.com/pterm/pterm"
)

// Coordinator runs one SourceProcessor per registered source
type Coordinator struct {
	sourceRepo repositories.LogSourceRepository
	eventRepo  repositories.EventRepository
	parserReg  *parsers.Registry
	extractor  *enrichment.GeoIPExtractor
	batches    BatchObserver
	processors map[string]*SourceProcessor
	logger     *pterm.Logger
	opts       ProcessorOptions
	mu         sync.RWMutex
	isRunning  bool
}

// NewCoordinator creates a new ingestion coordinator
func NewCoordinator(
	sourceRepo repositories.LogSourceRepository,
	eventRepo repositories.EventRepository,
	parserReg *parsers.Registry,
	extractor *enrichment.GeoIPExtractor,
	batches BatchObserver,
	logger *pterm.Logger,
	opts ProcessorOptions,
) *Coordinator {
	return &Coordinator{
		sourceRepo: sourceRepo,
		eventRepo:  eventRepo,
		parserReg:  parserReg,
		extractor:  extractor,
		batches:    batches,
		processors: make(map[string]*SourceProcessor),
		logger:     logger,
		opts:       opts,
	}
}

// Start initializes and starts all source processors
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		c.logger.Warn("Coordinator already running, skipping start")
		return nil
	}

	c.logger.Info("Starting ingestion coordinator...")

	// Load all sources from database
	sources, err := c.sourceRepo.FindAll()
	if err != nil {
		c.logger.WithCaller().Error("Failed to load event sources from database",
			c.logger.Args("error", err))
		return fmt.Errorf("failed to load event sources: %w", err)
	}

	if len(sources) == 0 {
		c.logger.Warn("No event sources registered. Set SOURCE_PATHS to add some.")
		c.logger.Info("Ingestion coordinator will run in standby mode, waiting for sources to be added.")
		c.isRunning = true
		return nil // Don't error, just run in standby mode
	}

	c.logger.Info("Found event sources", c.logger.Args("count", len(sources)))

	// Create and start a processor for each source
	successCount := 0
	for _, source := range sources {
		if err := c.startSourceProcessorLocked(source); err != nil {
			c.logger.WithCaller().Warn("Failed to start processor for source (will retry)",
				c.logger.Args("source", source.Name, "error", err))
			// Continue with other sources instead of failing completely
			continue
		}
		successCount++
	}

	if successCount == 0 {
		c.logger.Warn("No source processors could be started yet. Coordinator will run in standby mode.")
		c.logger.Info("Check SOURCE_PARSER and the parser type of each source.")
	}

	c.isRunning = true
	c.logger.Info("Ingestion coordinator started",
		c.logger.Args("active_processors", successCount, "total_sources", len(sources)))

	return nil
}

// startSourceProcessorLocked creates and starts a processor for a single source
// IMPORTANT: Caller must hold c.mu lock
func (c *Coordinator) startSourceProcessorLocked(source *models.LogSource) error {
	if _, exists := c.processors[source.Name]; exists {
		c.logger.Debug("Processor already exists for source, skipping", c.logger.Args("source", source.Name))
		return nil
	}

	parser, err := c.parserReg.Get(source.ParserType)
	if err != nil {
		c.logger.WithCaller().Warn("Parser not found for source",
			c.logger.Args("source", source.Name, "parser_type", source.ParserType, "error", err))
		return fmt.Errorf("parser not found: %w", err)
	}

	c.logger.Debug("Creating processor for source",
		c.logger.Args(
			"source", source.Name,
			"parser", source.ParserType,
			"path", source.Path,
		))

	processor := NewSourceProcessor(
		source,
		parser,
		c.eventRepo,
		c.sourceRepo,
		c.extractor,
		c.batches,
		c.logger,
		c.opts,
	)

	processor.Start()
	c.processors[source.Name] = processor

	c.logger.Info("Started processor for source",
		c.logger.Args(
			"source", source.Name,
			"path", source.Path,
			"last_position", source.LastPosition,
		))

	return nil
}

// Stop gracefully stops all source processors
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		c.logger.Debug("Coordinator not running, skipping stop")
		return
	}

	c.logger.Info("Stopping ingestion coordinator...",
		c.logger.Args("active_processors", len(c.processors)))

	var wg sync.WaitGroup
	for _, processor := range c.processors {
		processor := processor
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Stop()
		}()
	}
	wg.Wait()

	clear(c.processors)
	c.isRunning = false

	c.logger.Info("Ingestion coordinator stopped successfully")
}

// GetStatus returns the current status of the coordinator
func (c *Coordinator) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var processed, failed int64
	for _, p := range c.processors {
		ok, bad := p.Stats()
		processed += ok
		failed += bad
	}

	return map[string]interface{}{
		"is_running":        c.isRunning,
		"active_processors": len(c.processors),
		"events_stored":     processed,
		"events_failed":     failed,
	}
}

// IsRunning returns whether the coordinator is currently running
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// GetProcessorCount returns the number of active processors
func (c *Coordinator) GetProcessorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.processors)
}

// SyncWithDatabase starts processors for new sources and stops those whose
// source was deleted
func (c *Coordinator) SyncWithDatabase() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		c.logger.Debug("Coordinator not running, skipping database sync")
		return nil
	}

	c.logger.Debug("Syncing processors with source table")

	sources, err := c.sourceRepo.FindAll()
	if err != nil {
		c.logger.WithCaller().Error("Failed to load event sources during sync",
			c.logger.Args("error", err))
		return fmt.Errorf("failed to load event sources: %w", err)
	}

	dbSources := make(map[string]*models.LogSource)
	for _, source := range sources {
		dbSources[source.Name] = source
	}

	// Remove processors for sources that no longer exist
	for name := range c.processors {
		if _, exists := dbSources[name]; !exists {
			c.logger.Info("Source removed, stopping processor",
				c.logger.Args("source", name))

			c.processors[name].Stop()
			delete(c.processors, name)
		}
	}

	// Add processors for new sources
	addedCount := 0
	for _, source := range sources {
		if _, exists := c.processors[source.Name]; !exists {
			c.logger.Info("New source registered, starting processor",
				c.logger.Args("source", source.Name))

			if err := c.startSourceProcessorLocked(source); err != nil {
				c.logger.WithCaller().Warn("Failed to start processor for new source",
					c.logger.Args("source", source.Name, "error", err))
				continue
			}
			addedCount++
		}
	}

	if addedCount > 0 {
		c.logger.Info("Source sync added processors",
			c.logger.Args("added", addedCount, "total_processors", len(c.processors)))
	} else {
		c.logger.Debug("Source sync found no changes",
			c.logger.Args("total_processors", len(c.processors)))
	}

	return nil
}

// StartSyncLoop re-reads the source table every interval until ctx is done,
// picking up sources registered while running
func (c *Coordinator) StartSyncLoop(ctx context.Context, interval time.Duration) {
	c.logger.Info("Starting source sync loop", c.logger.Args("interval", interval.String()))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("Source sync loop stopped")
				return
			case <-ticker.C:
				if err := c.SyncWithDatabase(); err != nil {
					c.logger.WithCaller().Warn("Source sync failed", c.logger.Args("error", err))
				}
			}
		}
	}()
}
