package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame outcomes
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop" // recognized, but left the state unchanged (duplicate, empty, informational)
	OutcomeMalformed = "malformed"
	OutcomeUnknown   = "unknown"
)

var (
	// Stream metrics
	StreamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_stream_frames_total",
			Help: "Total inbound frames by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskstream_stream_connected",
			Help: "1 while the stream connection is open",
		},
	)

	StreamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_stream_reconnects_total",
			Help: "Reconnect attempts by status",
		},
		[]string{"status"}, // status: success|failed
	)

	StreamSendDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "riskstream_stream_send_dropped_total",
			Help: "Outbound messages dropped because the connection was closed",
		},
	)

	// Store metrics
	StoreMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_store_mutations_total",
			Help: "Store mutations by operation and whether they changed the state",
		},
		[]string{"operation", "result"}, // result: applied|noop
	)

	StoreEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_store_evictions_total",
			Help: "Entries evicted from bounded buffers",
		},
		[]string{"buffer"}, // buffer: activities|merkle_blocks
	)

	// Persistence metrics
	ApprovalPersistence = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_approval_persistence_total",
			Help: "Approval cache reads and writes by backend and status",
		},
		[]string{"backend", "operation", "status"}, // operation: load|save
	)

	// REST collaborator metrics
	APICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_api_calls_total",
			Help: "Pipeline REST API calls",
		},
		[]string{"endpoint", "status"},
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskstream_api_latency_seconds",
			Help:    "Pipeline REST API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	// Journal metrics
	JournalMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskstream_journal_messages_total",
			Help: "Kafka journal messages produced/consumed",
		},
		[]string{"direction", "status"}, // direction: produced|consumed
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(StreamFrames)
	prometheus.MustRegister(StreamConnected)
	prometheus.MustRegister(StreamReconnects)
	prometheus.MustRegister(StreamSendDropped)

	prometheus.MustRegister(StoreMutations)
	prometheus.MustRegister(StoreEvictions)

	prometheus.MustRegister(ApprovalPersistence)

	prometheus.MustRegister(APICalls)
	prometheus.MustRegister(APILatency)

	prometheus.MustRegister(JournalMessages)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordFrame records one inbound frame
func RecordFrame(kind, outcome string) {
	StreamFrames.WithLabelValues(kind, outcome).Inc()
}

// RecordConnection updates the connection gauge
func RecordConnection(connected bool) {
	if connected {
		StreamConnected.Set(1)
		return
	}
	StreamConnected.Set(0)
}

// RecordReconnect records the outcome of a reconnect attempt
func RecordReconnect(err error) {
	StreamReconnects.WithLabelValues(status(err)).Inc()
}

// RecordMutation records a store mutation
func RecordMutation(operation string, applied bool) {
	result := "noop"
	if applied {
		result = "applied"
	}
	StoreMutations.WithLabelValues(operation, result).Inc()
}

// RecordEviction records entries dropped from a bounded buffer
func RecordEviction(buffer string, n int) {
	if n > 0 {
		StoreEvictions.WithLabelValues(buffer).Add(float64(n))
	}
}

// RecordPersistence records an approval cache read or write
func RecordPersistence(backend, operation string, err error) {
	ApprovalPersistence.WithLabelValues(backend, operation, status(err)).Inc()
}

// RecordAPICall records a REST collaborator call
func RecordAPICall(endpoint string, latency time.Duration, err error) {
	APICalls.WithLabelValues(endpoint, status(err)).Inc()
	APILatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordJournal records a journal message
func RecordJournal(direction string, err error) {
	JournalMessages.WithLabelValues(direction, status(err)).Inc()
}
