// Package metrics provides Prometheus metrics for boltindex
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/boltindex/pkg/analyzer"
)

// Metrics holds all Prometheus metrics for boltindex
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Update pipeline metrics
	UpdatesTotal      *prometheus.CounterVec
	UpdatesInFlight   prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	NodesRegenerated  prometheus.Counter
	NodesPreserved    prometheus.Counter
	ImpactLevels      *prometheus.CounterVec
	ValidationResults *prometheus.CounterVec

	// Analyzer metrics
	AnalyzerCallsTotal   *prometheus.CounterVec
	AnalyzerCallDuration *prometheus.HistogramVec
	AnalyzerRetriesTotal *prometheus.CounterVec

	// Read path metrics
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	SearchQueriesTotal prometheus.Counter
	SearchResultsTotal prometheus.Counter
	DocumentsTotal     prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time

	stop chan struct{}
}

// NewMetrics creates and registers all metrics with the default registerer
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg; tests pass a fresh registry
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
		stop:            make(chan struct{}),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boltindex_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "boltindex_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Update pipeline metrics
	m.UpdatesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_updates_total",
			Help: "Total number of document updates by outcome",
		},
		[]string{"outcome"},
	)

	m.UpdatesInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "boltindex_updates_in_flight",
			Help: "Number of updates currently running",
		},
	)

	m.StageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boltindex_stage_duration_seconds",
			Help:    "Duration of update pipeline stages in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	m.NodesRegenerated = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_nodes_regenerated_total",
			Help: "Total number of node records regenerated by updates",
		},
	)

	m.NodesPreserved = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_nodes_preserved_total",
			Help: "Total number of node records carried over unchanged",
		},
	)

	m.ImpactLevels = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_impact_nodes_total",
			Help: "Nodes assigned each impact level",
		},
		[]string{"level"},
	)

	m.ValidationResults = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_validation_findings_total",
			Help: "Validation findings by check and severity",
		},
		[]string{"check", "severity"},
	)

	// Analyzer metrics
	m.AnalyzerCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_analyzer_calls_total",
			Help: "Total number of analyzer calls by view and outcome",
		},
		[]string{"view", "outcome"},
	)

	m.AnalyzerCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boltindex_analyzer_call_duration_seconds",
			Help:    "Duration of analyzer calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view"},
	)

	m.AnalyzerRetriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boltindex_analyzer_retries_total",
			Help: "Total number of analyzer call retries",
		},
		[]string{"view"},
	)

	// Read path metrics
	m.CacheHitsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_cache_hits_total",
			Help: "Total number of node cache hits",
		},
	)

	m.CacheMissesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_cache_misses_total",
			Help: "Total number of node cache misses",
		},
	)

	m.SearchQueriesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.SearchResultsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "boltindex_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.DocumentsTotal = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "boltindex_documents_total",
			Help: "Number of documents with a committed revision",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "boltindex_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// Close stops the uptime updater
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStage records the duration of one pipeline stage
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordUpdate records a finished update
func (m *Metrics) RecordUpdate(outcome string, regenerated, preserved int) {
	if m == nil {
		return
	}
	m.UpdatesTotal.WithLabelValues(outcome).Inc()
	m.NodesRegenerated.Add(float64(regenerated))
	m.NodesPreserved.Add(float64(preserved))
}

// UpdateStarted and UpdateFinished track updates holding a document slot
func (m *Metrics) UpdateStarted() {
	if m == nil {
		return
	}
	m.UpdatesInFlight.Inc()
}

func (m *Metrics) UpdateFinished() {
	if m == nil {
		return
	}
	m.UpdatesInFlight.Dec()
}

// RecordImpact adds per-level node counts of one propagation
func (m *Metrics) RecordImpact(counts map[string]int) {
	if m == nil {
		return
	}
	for level, n := range counts {
		m.ImpactLevels.WithLabelValues(level).Add(float64(n))
	}
}

// RecordFinding counts one validation finding
func (m *Metrics) RecordFinding(check string, fatal bool) {
	if m == nil {
		return
	}
	severity := "warning"
	if fatal {
		severity = "fatal"
	}
	m.ValidationResults.WithLabelValues(check, severity).Inc()
}

// RecordSearch records a search and its result count
func (m *Metrics) RecordSearch(results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(results))
}

// SetDocuments updates the committed document count
func (m *Metrics) SetDocuments(n int) {
	if m == nil {
		return
	}
	m.DocumentsTotal.Set(float64(n))
}

// ObserveAnalyzerCall implements analyzer.Observer
func (m *Metrics) ObserveAnalyzerCall(view analyzer.View, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalyzerCallsTotal.WithLabelValues(view.String(), outcome).Inc()
	m.AnalyzerCallDuration.WithLabelValues(view.String()).Observe(d.Seconds())
}

// ObserveAnalyzerRetry implements analyzer.Observer
func (m *Metrics) ObserveAnalyzerRetry(view analyzer.View) {
	if m == nil {
		return
	}
	m.AnalyzerRetriesTotal.WithLabelValues(view.String()).Inc()
}

// CacheHit implements cache.Observer
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

// CacheMiss implements cache.Observer
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}
