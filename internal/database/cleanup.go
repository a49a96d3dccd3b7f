package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"geostamp/internal/database/repositories"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// CoordinatorController interface for controlling ingestion during maintenance
type CoordinatorController interface {
	Stop()
	Start() error
	GetProcessorCount() int
}

// CleanupService manages database cleanup and retention
type CleanupService struct {
	db              *gorm.DB
	events          repositories.EventRepository
	logger          *pterm.Logger
	retentionDays   int
	cleanupInterval time.Duration
	cleanupTime     string
	vacuumEnabled   bool
	coordinator     CoordinatorController
	stopChan        chan struct{}
	running         bool
	initialDelay    time.Duration
	// Stats tracking
	mu              sync.Mutex
	lastRunTime     time.Time
	recordsDeleted  int64
	cleanupDuration time.Duration
}

// CleanupStats holds statistics about cleanup operations
type CleanupStats struct {
	LastRunTime      time.Time
	RecordsDeleted   int64
	CleanupDuration  time.Duration
	NextScheduledRun time.Time
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(db *gorm.DB, logger *pterm.Logger, retentionDays int, cleanupInterval time.Duration, cleanupTime string, vacuumEnabled bool, coordinator CoordinatorController) *CleanupService {
	return &CleanupService{
		db:              db,
		events:          repositories.NewEventRepository(db, logger),
		logger:          logger,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		cleanupTime:     cleanupTime,
		vacuumEnabled:   vacuumEnabled,
		coordinator:     coordinator,
		stopChan:        make(chan struct{}),
		running:         false,
		initialDelay:    1 * time.Minute,
	}
}

// Start begins the cleanup service
func (s *CleanupService) Start() {
	if s.retentionDays <= 0 {
		s.logger.Info("Data retention disabled (DB_RETENTION_DAYS=0), cleanup service not started")
		return
	}

	s.running = true
	s.logger.Info("Starting database cleanup service",
		s.logger.Args(
			"retention_days", s.retentionDays,
			"cleanup_time", s.cleanupTime,
			"vacuum_enabled", s.vacuumEnabled,
		))

	go s.scheduledCleanupLoop()
}

// Stop stops the cleanup service
func (s *CleanupService) Stop() {
	if !s.running {
		return
	}

	s.logger.Info("Stopping database cleanup service")
	close(s.stopChan)
	s.running = false
}

// scheduledCleanupLoop runs cleanup once a day at cleanupTime
func (s *CleanupService) scheduledCleanupLoop() {
	select {
	case <-s.stopChan:
		return
	case <-time.After(s.initialDelay):
	}

	for {
		now := time.Now()
		targetTime := s.nextRun(now)

		s.logger.Debug("Next cleanup scheduled",
			s.logger.Args("next_run", targetTime.Format("2006-01-02 15:04:05"),
				"wait_duration", time.Until(targetTime).Round(time.Minute)))

		// Wake at least every cleanupInterval so clock changes are noticed
		select {
		case <-s.stopChan:
			return
		case <-time.After(min(time.Until(targetTime), s.cleanupInterval)):
			if time.Now().After(targetTime.Add(-1 * time.Minute)) {
				s.runCleanup()
			}
		}
	}
}

// nextRun returns the next occurrence of the configured cleanup time after now
func (s *CleanupService) nextRun(now time.Time) time.Time {
	target := s.parseCleanupTime(now)
	if now.After(target) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

// parseCleanupTime parses the cleanup time string (HH:MM) and returns today's time
func (s *CleanupService) parseCleanupTime(baseTime time.Time) time.Time {
	// Parse HH:MM format
	cleanupTime, err := time.Parse("15:04", s.cleanupTime)
	if err != nil {
		s.logger.Warn("Invalid cleanup time format, using 02:00",
			s.logger.Args("configured", s.cleanupTime, "error", err))
		cleanupTime, _ = time.Parse("15:04", "02:00")
	}

	// Combine with today's date
	return time.Date(
		baseTime.Year(), baseTime.Month(), baseTime.Day(),
		cleanupTime.Hour(), cleanupTime.Minute(), 0, 0,
		baseTime.Location(),
	)
}

// runCleanup performs the cleanup operation
func (s *CleanupService) runCleanup() {
	s.logger.Info("Starting scheduled database cleanup",
		s.logger.Args("retention_days", s.retentionDays))

	startTime := time.Now()

	cutoffDate := time.Now().UTC().AddDate(0, 0, -s.retentionDays)

	totalDeleted, err := s.deleteOldRecords(cutoffDate)
	if err != nil {
		s.logger.WithCaller().Error("Failed to delete old records",
			s.logger.Args("error", err, "cutoff_date", cutoffDate.Format("2006-01-02")))
		return
	}

	cleanupDuration := time.Since(startTime)

	s.mu.Lock()
	s.lastRunTime = startTime
	s.recordsDeleted = totalDeleted
	s.cleanupDuration = cleanupDuration
	s.mu.Unlock()

	s.logger.Info("Cleanup completed",
		s.logger.Args(
			"records_deleted", totalDeleted,
			"duration", cleanupDuration.Round(time.Second),
			"cutoff_date", cutoffDate.Format("2006-01-02"),
		))

	if s.vacuumEnabled && totalDeleted > 0 {
		s.runVacuum()
	}
}

// deleteOldRecords deletes events older than cutoff date in batches
func (s *CleanupService) deleteOldRecords(cutoffDate time.Time) (int64, error) {
	const batchSize = 1000

	s.logger.Debug("Deleting events in batches",
		s.logger.Args("batch_size", batchSize, "cutoff_date", cutoffDate.Format("2006-01-02")))

	return s.events.DeleteOlderThan(cutoffDate, batchSize)
}

// runVacuum reclaims disk space. Ingestion is paused for the duration since
// VACUUM needs the database to itself.
func (s *CleanupService) runVacuum() {
	startTime := time.Now()

	paused := false
	if s.coordinator != nil && s.coordinator.GetProcessorCount() > 0 {
		s.logger.Info("Pausing ingestion for VACUUM",
			s.logger.Args("active_processors", s.coordinator.GetProcessorCount()))
		s.coordinator.Stop()
		paused = true
	}

	defer func() {
		if !paused {
			return
		}
		if err := s.coordinator.Start(); err != nil {
			s.logger.WithCaller().Error("Failed to resume ingestion after VACUUM",
				s.logger.Args("error", err))
			return
		}
		s.logger.Info("Ingestion resumed",
			s.logger.Args("active_processors", s.coordinator.GetProcessorCount()))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		s.logger.WithCaller().Error("Failed to run VACUUM", s.logger.Args("error", err))
		return
	}

	s.logger.Info("VACUUM completed",
		s.logger.Args("duration", time.Since(startTime).Round(time.Millisecond)))
}

// GetStats returns cleanup statistics
func (s *CleanupService) GetStats() *CleanupStats {
	targetTime := s.nextRun(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	return &CleanupStats{
		LastRunTime:      s.lastRunTime,
		RecordsDeleted:   s.recordsDeleted,
		CleanupDuration:  s.cleanupDuration,
		NextScheduledRun: targetTime,
	}
}

// ManualCleanup runs cleanup immediately and waits for it (useful for testing/admin)
func (s *CleanupService) ManualCleanup() error {
	if s.retentionDays <= 0 {
		return fmt.Errorf("retention disabled (DB_RETENTION_DAYS=0)")
	}

	s.logger.Info("Manual cleanup triggered")
	s.runCleanup()
	return nil
}

