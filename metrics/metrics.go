package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Prometheus-style counters (uint64 via atomic)
var (
	cyclesTotal          atomic.Uint64
	cycleFailures        atomic.Uint64
	seedFailures         atomic.Uint64
	cleanupDiagnostics   atomic.Uint64
	convergedTotal       atomic.Uint64
	notConvergedTotal    atomic.Uint64
	lastSettleAttempts   atomic.Uint64 // gauge semantics
	lastCycleDurationMs  atomic.Uint64 // gauge semantics
	reportPublishFailure atomic.Uint64
	wsConnections        atomic.Int64 // gauge
)

// Increment helpers
func IncCycle()                    { cyclesTotal.Add(1) }
func IncCycleFailure()             { cycleFailures.Add(1) }
func IncSeedFailure()              { seedFailures.Add(1) }
func AddCleanupDiagnostics(n int)  { cleanupDiagnostics.Add(uint64(n)) }
func IncReportPublishFailure()     { reportPublishFailure.Add(1) }
func IncWSConnections()            { wsConnections.Add(1) }
func DecWSConnections()            { wsConnections.Add(-1) }
func ObserveCycle(d time.Duration) { lastCycleDurationMs.Store(uint64(d.Milliseconds())) }
func ObserveSettle(attempts int, converged bool) {
	lastSettleAttempts.Store(uint64(attempts))
	if converged {
		convergedTotal.Add(1)
	} else {
		notConvergedTotal.Add(1)
	}
}

// Snapshot returns current values keyed by metric name; used by tests and the JSON report.
func Snapshot() map[string]uint64 {
	return map[string]uint64{
		"cycles_total":                  cyclesTotal.Load(),
		"cycle_failures_total":          cycleFailures.Load(),
		"seed_failures_total":           seedFailures.Load(),
		"cleanup_diagnostics_total":     cleanupDiagnostics.Load(),
		"settle_converged_total":        convergedTotal.Load(),
		"settle_not_converged_total":    notConvergedTotal.Load(),
		"settle_last_attempts":          lastSettleAttempts.Load(),
		"cycle_last_duration_ms":        lastCycleDurationMs.Load(),
		"report_publish_failures_total": reportPublishFailure.Load(),
		"ws_connections":                uint64(wsConnections.Load()),
	}
}

// Handler exposes metrics in a minimal Prometheus exposition format.
func Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP viewcheck_cycles_total Fixture cycles started\n")
	fmt.Fprintf(w, "# TYPE viewcheck_cycles_total counter\n")
	fmt.Fprintf(w, "viewcheck_cycles_total %d\n", cyclesTotal.Load())

	fmt.Fprintf(w, "# HELP viewcheck_cycle_failures_total Cycles whose report did not pass\n")
	fmt.Fprintf(w, "# TYPE viewcheck_cycle_failures_total counter\n")
	fmt.Fprintf(w, "viewcheck_cycle_failures_total %d\n", cycleFailures.Load())

	fmt.Fprintf(w, "# HELP viewcheck_seed_failures_total Cycles aborted in the seed phase\n")
	fmt.Fprintf(w, "# TYPE viewcheck_seed_failures_total counter\n")
	fmt.Fprintf(w, "viewcheck_seed_failures_total %d\n", seedFailures.Load())

	fmt.Fprintf(w, "# HELP viewcheck_cleanup_diagnostics_total Suppressed cleanup errors\n")
	fmt.Fprintf(w, "# TYPE viewcheck_cleanup_diagnostics_total counter\n")
	fmt.Fprintf(w, "viewcheck_cleanup_diagnostics_total %d\n", cleanupDiagnostics.Load())

	fmt.Fprintf(w, "# HELP viewcheck_settle_total Settle outcomes\n")
	fmt.Fprintf(w, "# TYPE viewcheck_settle_total counter\n")
	fmt.Fprintf(w, "viewcheck_settle_total{result=\"converged\"} %d\n", convergedTotal.Load())
	fmt.Fprintf(w, "viewcheck_settle_total{result=\"not_converged\"} %d\n", notConvergedTotal.Load())

	fmt.Fprintf(w, "# HELP viewcheck_settle_last_attempts Probe attempts used by the most recent settle\n")
	fmt.Fprintf(w, "# TYPE viewcheck_settle_last_attempts gauge\n")
	fmt.Fprintf(w, "viewcheck_settle_last_attempts %d\n", lastSettleAttempts.Load())

	fmt.Fprintf(w, "# HELP viewcheck_cycle_last_duration_ms Duration of the most recent cycle\n")
	fmt.Fprintf(w, "# TYPE viewcheck_cycle_last_duration_ms gauge\n")
	fmt.Fprintf(w, "viewcheck_cycle_last_duration_ms %d\n", lastCycleDurationMs.Load())

	fmt.Fprintf(w, "# HELP viewcheck_report_publish_failures_total Reports that could not be published to Kafka\n")
	fmt.Fprintf(w, "# TYPE viewcheck_report_publish_failures_total counter\n")
	fmt.Fprintf(w, "viewcheck_report_publish_failures_total %d\n", reportPublishFailure.Load())

	fmt.Fprintf(w, "# HELP viewcheck_ws_connections Connected report websocket clients\n")
	fmt.Fprintf(w, "# TYPE viewcheck_ws_connections gauge\n")
	fmt.Fprintf(w, "viewcheck_ws_connections %d\n", wsConnections.Load())
}
