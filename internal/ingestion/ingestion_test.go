package ingestion

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"geostamp/internal/database"
	"geostamp/internal/database/models"
	"geostamp/internal/database/repositories"
	"geostamp/internal/enrichment"
	parsers "geostamp/internal/parser"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewConnection(&database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		ConnMaxLife:  time.Hour,
	}, testLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newTestExtractor() *enrichment.GeoIPExtractor {
	locator := enrichment.LocatorFunc(func(ip string) (*enrichment.Location, error) {
		if ip == "81.2.69.142" {
			return &enrichment.Location{City: "London", CountryName: "United Kingdom", CountryCode: "GB",
				Latitude: 51.5142, Longitude: -0.0931}, nil
		}
		return nil, nil
	})
	return enrichment.NewGeoIPExtractor(enrichment.ExtractorConfig{
		Locator:             locator,
		ResolveLocalAddress: func() (string, error) { return "192.0.2.10", nil },
	}, testLogger())
}

type batchRecorder struct {
	mu     sync.Mutex
	events int
}

func (b *batchRecorder) ObserveBatch(size int, _ time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events += size
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestIncrementalReader_ReadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	writeLines(t, path, "one", "", "two", "three")

	r := NewIncrementalReader(path, 0, 0, "", testLogger())
	result, err := r.ReadBatch(2)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if strings.Join(result.Lines, ",") != "one,two" {
		t.Errorf("Expected [one two], got %v", result.Lines)
	}
	if result.LastLine != "two" {
		t.Errorf("Expected last line 'two', got %q", result.LastLine)
	}

	r.UpdatePosition(result.Position, result.Inode, result.LastLine)
	result, err = r.ReadBatch(10)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if strings.Join(result.Lines, ",") != "three" {
		t.Errorf("Expected [three], got %v", result.Lines)
	}
}

func TestIncrementalReader_PartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, []byte("complete\npartial"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewIncrementalReader(path, 0, 0, "", testLogger())
	result, _ := r.ReadBatch(10)
	if len(result.Lines) != 1 || result.Lines[0] != "complete" {
		t.Fatalf("Expected only the complete line, got %v", result.Lines)
	}
	r.UpdatePosition(result.Position, result.Inode, result.LastLine)

	writeLines(t, path, " line")
	result, _ = r.ReadBatch(10)
	if len(result.Lines) != 1 || result.Lines[0] != "partial line" {
		t.Errorf("Expected the finished line, got %v", result.Lines)
	}
}

func TestIncrementalReader_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	writeLines(t, path, "first line of the old file", "second line of the old file")

	r := NewIncrementalReader(path, 0, 0, "", testLogger())
	result, _ := r.ReadBatch(10)
	r.UpdatePosition(result.Position, result.Inode, result.LastLine)

	if err := os.WriteFile(path, []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := r.ReadBatch(10)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "new" {
		t.Errorf("Expected reader to restart after truncation, got %v", result.Lines)
	}
}

func TestIncrementalReader_MissingFile(t *testing.T) {
	r := NewIncrementalReader(filepath.Join(t.TempDir(), "absent.log"), 0, 0, "", testLogger())
	result, err := r.ReadBatch(10)
	if err != nil {
		t.Errorf("Expected no error for a missing file, got %v", err)
	}
	if len(result.Lines) != 0 {
		t.Errorf("Expected no lines, got %v", result.Lines)
	}
}

func TestSourceProcessor_ProcessLinesKeepsOrder(t *testing.T) {
	logger := testLogger()
	parser, _ := parsers.NewRegistry(logger).Get("jsonheaders")
	sp := NewSourceProcessor(&models.LogSource{Name: "events-test", Path: "unused.log"}, parser,
		nil, nil, newTestExtractor(), nil, logger, ProcessorOptions{WorkerPoolSize: 4})

	lines := []string{
		`{"addressHeader":"81.2.69.142","seq":"0"}`,
		`not json`,
		`{"addressHeader":"10.0.0.1","seq":"1"}`,
		`{"seq":"2"}`,
		`{"headers":{"addressHeader":"81.2.69.142","seq":"3"},"body":"payload"}`,
	}
	records := sp.processLines(lines)
	if len(records) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(records))
	}

	for i, record := range records {
		e, err := record.Event()
		if err != nil {
			t.Fatalf("Failed to decode record %d: %v", i, err)
		}
		if seq, _ := e.Header("seq"); seq != string(rune('0'+i)) {
			t.Errorf("Record %d has seq %q", i, seq)
		}
		if record.StampedIP != "192.0.2.10" {
			t.Errorf("Record %d not stamped: %q", i, record.StampedIP)
		}
	}

	if !records[0].Enriched || records[0].GeoCity != "London" || records[0].GeoCountryCode != "GB" {
		t.Errorf("Expected first record enriched, got %+v", records[0])
	}
	if records[1].Enriched || records[2].Enriched {
		t.Error("Expected no enrichment for a private address or a missing header")
	}
	if records[3].Body != "payload" || !records[3].Enriched {
		t.Errorf("Expected envelope body and enrichment, got %+v", records[3])
	}
}

func TestCoordinator_EndToEnd(t *testing.T) {
	logger := testLogger()
	db := newTestDB(t)
	sourceRepo := repositories.NewLogSourceRepository(db)
	eventRepo := repositories.NewEventRepository(db, logger)

	path := filepath.Join(t.TempDir(), "events.log")
	writeLines(t, path,
		`{"addressHeader":"81.2.69.142","timestamp":"2024-03-01T10:00:00Z"}`,
		`{"addressHeader":"bogus"}`,
	)
	if _, err := sourceRepo.Upsert(&models.LogSource{Name: "events-test", Path: path, ParserType: "jsonheaders"}); err != nil {
		t.Fatalf("Failed to register source: %v", err)
	}

	batches := &batchRecorder{}
	coordinator := NewCoordinator(sourceRepo, eventRepo, parsers.NewRegistry(logger), newTestExtractor(), batches, logger,
		ProcessorOptions{BatchSize: 10, PollInterval: 20 * time.Millisecond, BatchTimeout: 50 * time.Millisecond, Watch: true})
	if err := coordinator.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer coordinator.Stop()

	if coordinator.GetProcessorCount() != 1 {
		t.Fatalf("Expected 1 processor, got %d", coordinator.GetProcessorCount())
	}

	waitFor(t, 5*time.Second, func() bool {
		n, _ := eventRepo.Count()
		return n == 2
	})

	writeLines(t, path, `{"addressHeader":"81.2.69.142"}`)
	waitFor(t, 5*time.Second, func() bool {
		n, _ := eventRepo.Count()
		return n == 3
	})

	enriched, err := eventRepo.CountEnriched()
	if err != nil {
		t.Fatalf("CountEnriched failed: %v", err)
	}
	if enriched != 2 {
		t.Errorf("Expected 2 enriched events, got %d", enriched)
	}

	records, err := eventRepo.FindByClientIP("81.2.69.142", 10)
	if err != nil {
		t.Fatalf("FindByClientIP failed: %v", err)
	}
	found := false
	for _, r := range records {
		if r.Timestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
			found = true
		}
	}
	if !found {
		t.Error("Expected the stored timestamp to come from the event")
	}

	coordinator.Stop()
	source, err := sourceRepo.FindByName("events-test")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	info, _ := os.Stat(path)
	if source.LastPosition != info.Size() {
		t.Errorf("Expected position %d, got %d", info.Size(), source.LastPosition)
	}

	batches.mu.Lock()
	defer batches.mu.Unlock()
	if batches.events != 3 {
		t.Errorf("Expected 3 observed events, got %d", batches.events)
	}
}
