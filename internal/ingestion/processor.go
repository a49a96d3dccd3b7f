package ingestion

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"geostamp/internal/database/models"
	"geostamp/internal/database/repositories"
	"geostamp/internal/enrichment"
	"geostamp/internal/event"
	parsers "geostamp/internal/parser"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// timestampHeader is read from parsed events to date the stored record
const timestampHeader = "timestamp"

// BatchObserver is told about every batch written to the database
type BatchObserver interface {
	ObserveBatch(size int, duration time.Duration)
}

// ProcessorOptions tunes a SourceProcessor
type ProcessorOptions struct {
	BatchSize      int
	WorkerPoolSize int
	PollInterval   time.Duration
	BatchTimeout   time.Duration
	Watch          bool
}

func (o ProcessorOptions) withDefaults() ProcessorOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 2 * time.Second
	}
	return o
}

// SourceProcessor tails one source file, enriches each parsed event and stores it
type SourceProcessor struct {
	source     *models.LogSource
	parser     parsers.LogParser
	reader     *IncrementalReader
	eventRepo  repositories.EventRepository
	sourceRepo repositories.LogSourceRepository
	extractor  *enrichment.GeoIPExtractor
	batches    BatchObserver
	logger     *pterm.Logger
	opts       ProcessorOptions
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	// Statistics
	statsMu        sync.Mutex
	totalProcessed int64
	totalErrors    int64
	startTime      time.Time
}

// NewSourceProcessor creates a processor resuming from the source's stored position
func NewSourceProcessor(
	source *models.LogSource,
	parser parsers.LogParser,
	eventRepo repositories.EventRepository,
	sourceRepo repositories.LogSourceRepository,
	extractor *enrichment.GeoIPExtractor,
	batches BatchObserver,
	logger *pterm.Logger,
	opts ProcessorOptions,
) *SourceProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	return &SourceProcessor{
		source:     source,
		parser:     parser,
		reader:     NewIncrementalReader(source.Path, source.LastPosition, source.LastInode, source.LastLineContent, logger),
		eventRepo:  eventRepo,
		sourceRepo: sourceRepo,
		extractor:  extractor,
		batches:    batches,
		logger:     logger,
		opts:       opts.withDefaults(),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}
}

// Start begins processing the source in the background
func (sp *SourceProcessor) Start() {
	sp.wg.Add(1)
	go sp.processLoop()
	sp.logger.Info("Started source processor",
		sp.logger.Args("source", sp.source.Name, "path", sp.source.Path, "parser", sp.parser.Name()))
}

// Stop flushes pending events and waits for the loop to exit
func (sp *SourceProcessor) Stop() {
	sp.logger.Debug("Stopping source processor", sp.logger.Args("source", sp.source.Name))
	sp.cancel()
	sp.wg.Wait()
	sp.logger.Info("Stopped source processor", sp.logger.Args("source", sp.source.Name))
}

// Stats returns the number of stored and failed events
func (sp *SourceProcessor) Stats() (processed, failed int64) {
	sp.statsMu.Lock()
	defer sp.statsMu.Unlock()
	return sp.totalProcessed, sp.totalErrors
}

// newWatcher watches the directory holding the source so that rotation
// (remove then create) is seen as well as writes
func (sp *SourceProcessor) newWatcher() *fsnotify.Watcher {
	if !sp.opts.Watch {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sp.logger.Warn("File watcher unavailable, falling back to polling",
			sp.logger.Args("source", sp.source.Name, "error", err))
		return nil
	}
	dir := filepath.Dir(sp.source.Path)
	if err := watcher.Add(dir); err != nil {
		sp.logger.Warn("Failed to watch source directory, falling back to polling",
			sp.logger.Args("source", sp.source.Name, "dir", dir, "error", err))
		watcher.Close()
		return nil
	}
	return watcher
}

// processLoop reads on every tick or file notification and flushes when the
// batch is full or the batch timeout expires
func (sp *SourceProcessor) processLoop() {
	defer sp.wg.Done()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if watcher := sp.newWatcher(); watcher != nil {
		defer watcher.Close()
		fsEvents = watcher.Events
		fsErrors = watcher.Errors
	}

	ticker := time.NewTicker(sp.opts.PollInterval)
	defer ticker.Stop()

	flushTimer := time.NewTimer(sp.opts.BatchTimeout)
	defer flushTimer.Stop()

	batch := []*models.EventRecord{}
	committed := ReadResult{
		Position: sp.source.LastPosition,
		Inode:    sp.source.LastInode,
		LastLine: sp.source.LastLineContent,
	}
	var pending ReadResult
	hasPending := false

	flush := func() {
		if len(batch) > 0 {
			ok := sp.flushBatch(batch)
			batch = []*models.EventRecord{}
			if !ok {
				// Rewind so the lines are read again on the next tick
				sp.reader.UpdatePosition(committed.Position, committed.Inode, committed.LastLine)
				hasPending = false
				return
			}
		}
		if hasPending {
			sp.updatePosition(pending)
			committed = pending
			hasPending = false
		}
	}

	read := func() {
		result, err := sp.reader.ReadBatch(sp.opts.BatchSize - len(batch))
		if err != nil {
			sp.logger.WithCaller().Error("Failed to read from event file",
				sp.logger.Args("source", sp.source.Name, "error", err))
			return
		}
		if result.Position == sp.reader.Position() && len(result.Lines) == 0 {
			return
		}

		// The reader resumes from its committed position, so advance it
		// in memory now and persist it once the batch is stored
		sp.reader.UpdatePosition(result.Position, result.Inode, result.LastLine)
		pending = result
		hasPending = true

		batch = append(batch, sp.processLines(result.Lines)...)
		if len(batch) >= sp.opts.BatchSize {
			sp.logger.Trace("Batch full, flushing",
				sp.logger.Args("source", sp.source.Name, "count", len(batch)))
			flush()
			flushTimer.Reset(sp.opts.BatchTimeout)
		}
	}

	// Catch up on whatever is already in the file
	read()

	for {
		select {
		case <-sp.ctx.Done():
			if len(batch) > 0 {
				sp.logger.Debug("Flushing remaining batch on shutdown",
					sp.logger.Args("source", sp.source.Name, "count", len(batch)))
			}
			flush()
			return

		case <-flushTimer.C:
			flush()
			flushTimer.Reset(sp.opts.BatchTimeout)

		case <-ticker.C:
			read()

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(sp.source.Path) &&
				ev.Has(fsnotify.Write|fsnotify.Create) {
				read()
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			sp.logger.Warn("File watcher error",
				sp.logger.Args("source", sp.source.Name, "error", err))
		}
	}
}

// updatePosition persists the position after a successful flush
func (sp *SourceProcessor) updatePosition(r ReadResult) {
	if err := sp.sourceRepo.UpdateTracking(sp.source.Name, r.Position, r.Inode, r.LastLine); err != nil {
		sp.logger.WithCaller().Error("Failed to update source tracking",
			sp.logger.Args("source", sp.source.Name, "error", err))
		return
	}
	sp.logger.Trace("Updated source tracking",
		sp.logger.Args("source", sp.source.Name, "position", r.Position, "inode", r.Inode))
}

// processLines parses lines on the worker pool, enriches the events in line
// order and converts them to records
func (sp *SourceProcessor) processLines(lines []string) []*models.EventRecord {
	events := sp.parseParallel(lines)
	if len(events) == 0 {
		return nil
	}

	sp.extractor.ProcessAll(events)

	records := make([]*models.EventRecord, 0, len(events))
	for _, e := range events {
		record, err := models.NewEventRecord(sp.source.Name, sp.extractor.TargetHeader(), e, eventTimestamp(e))
		if err != nil {
			sp.logger.Warn("Failed to convert event to record",
				sp.logger.Args("source", sp.source.Name, "error", err))
			continue
		}
		records = append(records, record)
	}
	return records
}

// parseParallel parses lines with a worker pool. Results keep line order and
// lines that fail to parse are dropped.
func (sp *SourceProcessor) parseParallel(lines []string) []*event.Event {
	if len(lines) == 0 {
		return nil
	}

	numWorkers := min(sp.opts.WorkerPoolSize, len(lines))
	parsed := make([]*event.Event, len(lines))
	jobs := make(chan int, len(lines))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				line := lines[i]
				if !sp.parser.CanParse(line) {
					sp.logger.Trace("Skipping line not supported by parser",
						sp.logger.Args("source", sp.source.Name, "parser", sp.parser.Name()))
					continue
				}
				e, err := sp.parser.Parse(line)
				if err != nil {
					sp.logger.Warn("Failed to parse event line",
						sp.logger.Args("source", sp.source.Name, "error", err, "line_preview", truncate(line, 100)))
					continue
				}
				parsed[i] = e
			}
		}()
	}

	for i := range lines {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	events := make([]*event.Event, 0, len(lines))
	for _, e := range parsed {
		if e != nil {
			events = append(events, e)
		}
	}
	return events
}

// flushBatch stores the batch and reports whether it succeeded
func (sp *SourceProcessor) flushBatch(batch []*models.EventRecord) bool {
	startTime := time.Now()

	if err := sp.eventRepo.CreateBatch(batch); err != nil {
		sp.logger.WithCaller().Error("Failed to insert batch into database",
			sp.logger.Args("source", sp.source.Name, "count", len(batch), "error", err))
		sp.statsMu.Lock()
		sp.totalErrors += int64(len(batch))
		sp.statsMu.Unlock()
		return false
	}

	duration := time.Since(startTime)
	if sp.batches != nil {
		sp.batches.ObserveBatch(len(batch), duration)
	}

	sp.statsMu.Lock()
	sp.totalProcessed += int64(len(batch))
	totalProcessed := sp.totalProcessed
	sp.statsMu.Unlock()

	elapsed := time.Since(sp.startTime)
	sp.logger.Debug("Batch processed successfully",
		sp.logger.Args(
			"source", sp.source.Name,
			"batch_count", len(batch),
			"batch_duration_ms", duration.Milliseconds(),
			"total_processed", totalProcessed,
			"rate_per_sec", int(float64(totalProcessed)/elapsed.Seconds()),
		))
	return true
}

// eventTimestamp uses the event's RFC 3339 timestamp header when present
func eventTimestamp(e *event.Event) time.Time {
	if v, ok := e.Header(timestampHeader); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// truncate shortens s to maxLen bytes for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
