// Package ingest – Prometheus instrumentation for the pipeline.
//
// Label cardinality is bounded: connector names and change kinds are
// small fixed sets, and resolution methods are an enum.
package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	// recordsSeen counts every payload a run observed, by connector and
	// by the change kind it classified to.
	recordsSeen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_seen_total",
			Help: "Payloads observed by connector and change classification.",
		},
		[]string{"connector", "kind"},
	)

	// recordFailures counts per-record failures by connector and failure
	// class (schema_drift, unsupported_version, malformed, anomaly, other).
	recordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_record_failures_total",
			Help: "Per-record processing failures by connector and class.",
		},
		[]string{"connector", "class"},
	)

	// quarantined counts raw rows placed in quarantine.
	quarantined = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_quarantined_total",
			Help: "Raw payloads quarantined pending manual handling.",
		},
		[]string{"connector"},
	)

	// runDuration observes wall-clock run time per connector and outcome.
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Connector run duration by terminal status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s..~68m
		},
		[]string{"connector", "status"},
	)

	// connectorLag gauges now minus the latest successful run's finish
	// time, per connector. Updated by the status service.
	connectorLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_connector_lag_seconds",
			Help: "Seconds since the latest successful run finished.",
		},
		[]string{"connector"},
	)

	// resolverConfidence is the match-confidence distribution signal:
	// every identity resolution observes its score here.
	resolverConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_resolver_confidence",
			Help:    "Identity resolution confidence scores by kind and method.",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.93, 0.96, 0.99, 1},
		},
		[]string{"kind", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		recordsSeen, recordFailures, quarantined,
		runDuration, connectorLag, resolverConfidence,
	)
}

// SetConnectorLag publishes the lag gauge for a connector.
func SetConnectorLag(connector string, seconds float64) {
	connectorLag.WithLabelValues(connector).Set(seconds)
}
