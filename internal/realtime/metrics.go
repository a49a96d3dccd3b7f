package realtime

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"geostamp/internal/enrichment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
)

// MetricsCollector counts enrichment outcomes and keeps a rolling event rate.
// It implements enrichment.Observer.
type MetricsCollector struct {
	logger   *pterm.Logger
	registry *prometheus.Registry

	outcomeTotal   *prometheus.CounterVec
	eventsTotal    prometheus.Counter
	batchDuration  prometheus.Histogram
	batchSizeGauge prometheus.Gauge

	counts    map[enrichment.Outcome]*atomic.Int64
	processed atomic.Int64

	// Current rate
	mu            sync.RWMutex
	eventRate     float64 // events per second
	lastProcessed int64
	lastUpdate    time.Time
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// EnrichmentMetrics represents current enrichment statistics
type EnrichmentMetrics struct {
	EventsProcessed int64            `json:"events_processed"`
	EventRate       float64          `json:"event_rate"` // events/sec
	Outcomes        map[string]int64 `json:"outcomes"`
	Timestamp       time.Time        `json:"timestamp"`
}

// NewMetricsCollector creates a collector with its own prometheus registry
func NewMetricsCollector(logger *pterm.Logger) *MetricsCollector {
	m := &MetricsCollector{
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		counts:     make(map[enrichment.Outcome]*atomic.Int64, len(enrichment.Outcomes)),
		lastUpdate: time.Now(),
		stopChan:   make(chan struct{}),
	}

	m.outcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geostamp",
		Name:      "enrichment_outcomes_total",
		Help:      "Enrichment outcomes by kind.",
	}, []string{"outcome"})
	m.eventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geostamp",
		Name:      "events_processed_total",
		Help:      "Events passed through the extractor.",
	})
	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geostamp",
		Name:      "batch_duration_seconds",
		Help:      "Time spent enriching and storing one batch.",
		Buckets:   prometheus.DefBuckets,
	})
	m.batchSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "geostamp",
		Name:      "last_batch_size",
		Help:      "Number of events in the last flushed batch.",
	})

	m.registry.MustRegister(m.outcomeTotal, m.eventsTotal, m.batchDuration, m.batchSizeGauge)

	for _, outcome := range enrichment.Outcomes {
		m.counts[outcome] = new(atomic.Int64)
		// Expose every outcome at zero from the start
		m.outcomeTotal.WithLabelValues(string(outcome))
	}

	return m
}

// Observe records one enrichment outcome
func (m *MetricsCollector) Observe(outcome enrichment.Outcome) {
	if c, ok := m.counts[outcome]; ok {
		c.Add(1)
	}
	m.outcomeTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveBatch records a processed batch
func (m *MetricsCollector) ObserveBatch(size int, duration time.Duration) {
	m.processed.Add(int64(size))
	m.eventsTotal.Add(float64(size))
	m.batchSizeGauge.Set(float64(size))
	m.batchDuration.Observe(duration.Seconds())
}

// WatchDatabase exports the connection pool statistics of db
func (m *MetricsCollector) WatchDatabase(db *sql.DB, name string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Registry returns the prometheus registry holding the collector's metrics
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Start begins computing the event rate at regular intervals
func (m *MetricsCollector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.collectMetrics()
			}
		}
	}()
	m.logger.Info("Real-time metrics collector started",
		m.logger.Args("interval", interval.String()))
}

// Stop ends the rate computation
func (m *MetricsCollector) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// collectMetrics updates the event rate since the previous tick
func (m *MetricsCollector) collectMetrics() {
	now := time.Now()
	processed := m.processed.Load()

	m.mu.Lock()
	elapsed := now.Sub(m.lastUpdate).Seconds()
	if elapsed > 0 {
		m.eventRate = float64(processed-m.lastProcessed) / elapsed
	}
	m.lastProcessed = processed
	m.lastUpdate = now
	rate := m.eventRate
	m.mu.Unlock()

	m.logger.Trace("Collected real-time metrics",
		m.logger.Args("event_rate", rate, "events_processed", processed))
}

// GetMetrics returns the current metrics snapshot
func (m *MetricsCollector) GetMetrics() *EnrichmentMetrics {
	outcomes := make(map[string]int64, len(m.counts))
	for outcome, c := range m.counts {
		outcomes[string(outcome)] = c.Load()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return &EnrichmentMetrics{
		EventsProcessed: m.processed.Load(),
		EventRate:       m.eventRate,
		Outcomes:        outcomes,
		Timestamp:       m.lastUpdate,
	}
}
