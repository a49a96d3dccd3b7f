package database

import (
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// OptimizeDatabase applies additional optimizations after initial migrations
// This includes creating query indexes and verifying SQLite settings
func OptimizeDatabase(db *gorm.DB, logger *pterm.Logger) error {
	logger.Debug("Applying database optimizations...")

	// Verify WAL mode is enabled (in-memory databases report "memory")
	var journalMode string
	if err := db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		logger.Warn("Failed to check journal mode", logger.Args("error", err))
	} else if journalMode != "wal" && journalMode != "memory" {
		logger.Warn("Database not in WAL mode", logger.Args("mode", journalMode))
	} else {
		logger.Trace("Database journal mode verified", logger.Args("mode", journalMode))
	}

	// IF NOT EXISTS makes this idempotent and fast on subsequent runs
	indexes := []string{
		// Per-source listing, newest first
		`CREATE INDEX IF NOT EXISTS idx_events_source_time
		 ON events(source_name, timestamp DESC)`,

		// Client activity timeline
		`CREATE INDEX IF NOT EXISTS idx_events_ip_time
		 ON events(client_ip, timestamp DESC)`,

		// Enriched events by country
		`CREATE INDEX IF NOT EXISTS idx_events_enriched_country
		 ON events(geo_country_code, timestamp DESC)
		 WHERE enriched = 1`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Warn("Failed to create index", logger.Args("error", err))
			return err
		}
	}

	logger.Debug("Query indexes verified", logger.Args("count", len(indexes)))

	// Analyze tables for query optimizer (only log if it fails)
	if err := db.Exec("ANALYZE").Error; err != nil {
		logger.Warn("Failed to analyze database", logger.Args("error", err))
	}

	return nil
}
