package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// ApplyBuckets for in-memory diff application (sub-millisecond typical)
	ApplyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// FlushBuckets for backstore batch commits
	FlushBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

// Journal metrics
var (
	// JournalOpsTotal counts journal operations by op (insert, update,
	// insert_or_replace, remove) and result (ok, error)
	JournalOpsTotal CounterVec = noopCounterVec{}

	// JournalApplySeconds measures diff application latency
	JournalApplySeconds Histogram = NoopStat{}

	// JournalsActive tracks journals created but not yet committed or
	// rolled back
	JournalsActive Gauge = NoopStat{}
)

// Backstore metrics
var (
	// BackstoreFlushSeconds measures commit batch latency
	BackstoreFlushSeconds Histogram = NoopStat{}

	// BackstoreRowsTotal counts rows written to the backstore by kind
	// (added, modified, deleted, skipped)
	BackstoreRowsTotal CounterVec = noopCounterVec{}
)

// registerEngineMetrics swaps the no-op metrics for real collectors.
// Called by InitTelemetry once a registry exists.
func registerEngineMetrics() {
	JournalOpsTotal = NewCounterVec("journal_ops_total", "Journal operations by op and result", "op", "result")
	JournalApplySeconds = NewHistogram("journal_apply_seconds", "Diff application latency", ApplyBuckets)
	JournalsActive = NewGauge("journals_active", "Journals created but not yet terminated")

	BackstoreFlushSeconds = NewHistogram("backstore_flush_seconds", "Backstore commit batch latency", FlushBuckets)
	BackstoreRowsTotal = NewCounterVec("backstore_rows_total", "Rows written to the backstore", "kind")
}
