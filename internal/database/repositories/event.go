package repositories

import (
	"time"

	"geostamp/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// EventRepository stores enriched events
type EventRepository interface {
	CreateBatch(records []*models.EventRecord) error
	FindRecent(limit int, sourceName string) ([]*models.EventRecord, error)
	FindByClientIP(clientIP string, limit int) ([]*models.EventRecord, error)
	Count() (int64, error)
	CountBySourceName(sourceName string) (int64, error)
	CountEnriched() (int64, error)
	DeleteOlderThan(cutoff time.Time, batchSize int) (int64, error)
}

type eventRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, logger *pterm.Logger) EventRepository {
	return &eventRepo{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts multiple events in a single transaction
// Large batches are split to stay under the SQLite variable limit (32766)
func (r *eventRepo) CreateBatch(records []*models.EventRecord) error {
	if len(records) == 0 {
		r.logger.Debug("Empty batch, skipping insert")
		return nil
	}

	const MaxSQLiteVariables = 32766
	const ColumnsPerRecord = 15 // Approximate number of columns in EventRecord
	const MaxRecordsPerBatch = MaxSQLiteVariables / ColumnsPerRecord

	for i := 0; i < len(records); i += MaxRecordsPerBatch {
		end := i + MaxRecordsPerBatch
		if end > len(records) {
			end = len(records)
		}

		subBatch := records[i:end]
		if err := r.insertSubBatch(subBatch); err != nil {
			r.logger.WithCaller().Error("Failed to insert sub-batch",
				r.logger.Args("batch_num", (i/MaxRecordsPerBatch)+1, "count", len(subBatch), "error", err))
			return err
		}
	}

	r.logger.Trace("Inserted event batch",
		r.logger.Args("count", len(records), "source", records[0].SourceName))
	return nil
}

// insertSubBatch performs the actual batch insert within SQLite variable limits
func (r *eventRepo) insertSubBatch(records []*models.EventRecord) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		r.logger.WithCaller().Error("Failed to begin transaction", r.logger.Args("error", tx.Error))
		return tx.Error
	}

	if err := tx.Omit("LogSource").Create(&records).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		r.logger.WithCaller().Error("Failed to commit transaction", r.logger.Args("error", err))
		return err
	}

	return nil
}

// FindRecent returns the newest events, optionally restricted to one source
func (r *eventRepo) FindRecent(limit int, sourceName string) ([]*models.EventRecord, error) {
	var records []*models.EventRecord
	query := r.db.Order("timestamp DESC, id DESC")

	if sourceName != "" {
		query = query.Where("source_name = ?", sourceName)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&records).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find recent events",
			r.logger.Args("source", sourceName, "error", err))
		return nil, err
	}

	r.logger.Trace("Found recent events", r.logger.Args("count", len(records), "limit", limit, "source", sourceName))
	return records, nil
}

// FindByClientIP returns the newest events for one client address
func (r *eventRepo) FindByClientIP(clientIP string, limit int) ([]*models.EventRecord, error) {
	var records []*models.EventRecord
	query := r.db.Where("client_ip = ?", clientIP).Order("timestamp DESC, id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&records).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find events by client IP",
			r.logger.Args("client_ip", clientIP, "error", err))
		return nil, err
	}
	return records, nil
}

// Count returns the total number of events
func (r *eventRepo) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&models.EventRecord{}).Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count events", r.logger.Args("error", err))
		return 0, err
	}
	return count, nil
}

// CountBySourceName returns the number of events for a specific source
func (r *eventRepo) CountBySourceName(sourceName string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.EventRecord{}).
		Where("source_name = ?", sourceName).
		Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count events by source",
			r.logger.Args("source", sourceName, "error", err))
		return 0, err
	}
	return count, nil
}

// CountEnriched returns the number of events carrying geoip headers
func (r *eventRepo) CountEnriched() (int64, error) {
	var count int64
	err := r.db.Model(&models.EventRecord{}).Where("enriched = ?", true).Count(&count).Error
	return count, err
}

// DeleteOlderThan deletes events older than cutoff in batches to avoid long locks
func (r *eventRepo) DeleteOlderThan(cutoff time.Time, batchSize int) (int64, error) {
	total := int64(0)
	for {
		result := r.db.Exec(`
			DELETE FROM events
			WHERE id IN (
				SELECT id FROM events
				WHERE timestamp < ?
				LIMIT ?
			)
		`, cutoff.UTC(), batchSize)
		if result.Error != nil {
			return total, result.Error
		}

		total += result.RowsAffected
		if result.RowsAffected == 0 {
			return total, nil
		}

		r.logger.Trace("Deleted batch",
			r.logger.Args("batch_deleted", result.RowsAffected, "total_deleted", total))
	}
}
