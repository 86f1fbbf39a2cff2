package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RolesIngested    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_roles_ingested_total", Help: "Roles accepted by ingestion"})
	RolesDeduped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_roles_deduplicated_total", Help: "Ingestion attempts rejected as duplicates"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Ingestion requests rejected by rate limiter"})
	StepSuccess      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_steps_completed_total", Help: "Steps completed successfully"})
	StepFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_steps_failed_total", Help: "Steps that failed and will retry"})
	StepDeadLetter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_steps_dead_letter_total", Help: "Steps moved to the dead letter list"})
	StepQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_step_queue_depth", Help: "Ready step queue depth"})
	StepsInFlight    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_steps_inflight", Help: "Steps currently leased"})
	AdapterFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_adapter_fallbacks_total", Help: "Adapter calls that exhausted retries and used the fallback"})
	ReportsApplied   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_status_reports_applied_total", Help: "Worker status reports applied to applications"})
	ReportsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_status_reports_discarded_total", Help: "Worker reports discarded as malformed or unresolvable"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RolesIngested,
			RolesDeduped,
			RateLimitRejects,
			StepSuccess,
			StepFailures,
			StepDeadLetter,
			StepQueueDepth,
			StepsInFlight,
			AdapterFallbacks,
			ReportsApplied,
			ReportsDiscarded,
		)
	})
	return promhttp.Handler()
}
