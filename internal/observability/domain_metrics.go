package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes reported by the engine.
const (
	QueryOutcomeOK            = "ok"
	QueryOutcomeCacheHit      = "cache_hit"
	QueryOutcomeTranslateMiss = "translate_miss"
	QueryOutcomeExecError     = "exec_error"
	QueryOutcomeDiscoveryFail = "discovery_error"
)

var (
	queryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_requests_total",
			Help: "Total number of natural-language queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_query_duration_seconds",
			Help:    "End-to-end natural-language query latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)
	translationRulesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_translation_rule_total",
			Help: "Total number of translations by matched rule.",
		},
		[]string{"rule"},
	)
	resultCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_result_cache_entries",
			Help: "Current number of entries held by the result cache, expired ones included.",
		},
	)
	queryHistoryRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_query_history_records",
			Help: "Current number of records in the query history.",
		},
	)
	schemaTablesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_schema_tables_skipped_total",
			Help: "Total number of tables omitted from schema snapshots because introspection failed.",
		},
	)
	schemaDiscoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_schema_discoveries_total",
			Help: "Total number of schema discoveries by result.",
		},
		[]string{"result"},
	)
	documentsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_documents_ingested_total",
			Help: "Total number of uploaded documents by result.",
		},
		[]string{"result"},
	)
	documentBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_document_bytes_total",
			Help: "Total number of document bytes written to object storage.",
		},
	)
	historyArchivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_history_archives_total",
			Help: "Total number of history archive attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		queryRequestsTotal,
		queryDurationSeconds,
		translationRulesTotal,
		resultCacheEntries,
		queryHistoryRecords,
		schemaTablesSkippedTotal,
		schemaDiscoveriesTotal,
		documentsIngestedTotal,
		documentBytesTotal,
		historyArchivesTotal,
	)
}

func ObserveQuery(outcome string, elapsed time.Duration) {
	queryRequestsTotal.WithLabelValues(outcome).Inc()
	queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func IncrementTranslationRule(rule string) {
	translationRulesTotal.WithLabelValues(rule).Inc()
}

func SetResultCacheEntries(entries int) {
	resultCacheEntries.Set(float64(entries))
}

func SetQueryHistoryRecords(records int) {
	queryHistoryRecords.Set(float64(records))
}

func IncrementSchemaTableSkipped() {
	schemaTablesSkippedTotal.Inc()
}

func ObserveSchemaDiscovery(err error) {
	schemaDiscoveriesTotal.WithLabelValues(resultLabel(err)).Inc()
}

func ObserveDocumentIngested(bytes int64, err error) {
	documentsIngestedTotal.WithLabelValues(resultLabel(err)).Inc()
	if err == nil && bytes > 0 {
		documentBytesTotal.Add(float64(bytes))
	}
}

func ObserveHistoryArchive(err error) {
	historyArchivesTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
