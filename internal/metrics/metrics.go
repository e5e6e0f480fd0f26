package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records replay, write and request activity. A nil receiver or
// one built without a registerer silently drops observations.
type LedgerMetrics struct {
	snapshotDuration prometheus.Histogram
	skippedRows      *prometheus.CounterVec
	coercedValues    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	writes           *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	snapshotDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_snapshot_duration_seconds",
		Help:    "Time spent replaying the event tables into a snapshot.",
		Buckets: prometheus.DefBuckets,
	})
	skippedRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_skipped_rows_total",
		Help: "Rows excluded from replay, by table and defect kind.",
	}, []string{"table", "kind"})
	coercedValues := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_coerced_values_total",
		Help: "Cell values coerced to a default while the row was still replayed, by table and defect kind.",
	}, []string{"table", "kind"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_snapshot_cache_lookups_total",
		Help: "Snapshot cache lookups by result.",
	}, []string{"result"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Rows appended or updated, by table and outcome.",
	}, []string{"table", "outcome"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	reg.MustRegister(snapshotDuration, skippedRows, coercedValues, cacheLookups, writes, requestDuration)
	return &LedgerMetrics{
		snapshotDuration: snapshotDuration,
		skippedRows:      skippedRows,
		coercedValues:    coercedValues,
		cacheLookups:     cacheLookups,
		writes:           writes,
		requestDuration:  requestDuration,
	}
}

func (m *LedgerMetrics) ObserveSnapshot(duration time.Duration) {
	if m == nil || m.snapshotDuration == nil {
		return
	}
	m.snapshotDuration.Observe(duration.Seconds())
}

func (m *LedgerMetrics) AddSkipped(table string, kind string, n int) {
	if m == nil || m.skippedRows == nil || n <= 0 {
		return
	}
	m.skippedRows.WithLabelValues(normalizeLabel(table), normalizeLabel(kind)).Add(float64(n))
}

// AddCoerced counts values that were defaulted but whose rows still counted
// toward the snapshot.
func (m *LedgerMetrics) AddCoerced(table string, kind string, n int) {
	if m == nil || m.coercedValues == nil || n <= 0 {
		return
	}
	m.coercedValues.WithLabelValues(normalizeLabel(table), normalizeLabel(kind)).Add(float64(n))
}

func (m *LedgerMetrics) CacheHit() {
	m.cacheLookup("hit")
}

func (m *LedgerMetrics) CacheMiss() {
	m.cacheLookup("miss")
}

func (m *LedgerMetrics) cacheLookup(result string) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// IncWrite counts one row write; err decides the outcome label.
func (m *LedgerMetrics) IncWrite(table string, err error) {
	if m == nil || m.writes == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.writes.WithLabelValues(normalizeLabel(table), outcome).Inc()
}

func (m *LedgerMetrics) ObserveRequest(method string, route string, status int, duration time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(duration.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
