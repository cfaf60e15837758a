package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Credential lifecycle
	codesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_codes_issued_total",
		Help: "Total number of access codes issued",
	})

	codegenFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_codegen_fallback_total",
		Help: "Total number of times code generation fell back to deterministic derivation",
	})

	credentialsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guestgate_credentials_active",
		Help: "Unused credentials that have not passed their validity window",
	})

	accessGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_access_granted_total",
		Help: "Total number of granted presentments",
	})

	accessDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guestgate_access_denied_total",
		Help: "Total number of denied presentments by reason",
	}, []string{"reason"}) // reason=not_found|already_used|too_early|expired

	// Door actuation
	unlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guestgate_unlocks_total",
		Help: "Door unlock attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	relocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guestgate_relocks_total",
		Help: "Scheduled relock firings by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	doorsUnsecured = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guestgate_doors_unsecured",
		Help: "Reservations whose relock was cancelled by shutdown and never fired",
	})

	// Notifications
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guestgate_notifications_total",
		Help: "Notification deliveries by kind and outcome",
	}, []string{"kind", "outcome"})

	// Polling
	pollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guestgate_poll_cycles_total",
		Help: "Booking source poll cycles by outcome",
	}, []string{"outcome"}) // outcome=success|error

	pollOverlapSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_poll_overlap_skips_total",
		Help: "Poll ticks skipped because the previous cycle was still running",
	})

	pollDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guestgate_poll_duration_seconds",
		Help:    "Time spent per booking source poll cycle",
		Buckets: prometheus.DefBuckets,
	})

	reservationsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_reservations_processed_total",
		Help: "Reservation occurrences that produced a credential",
	})

	// Health
	healthCheckUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guestgate_health_check_up",
		Help: "Per-check health status (1 passing, 0 failing)",
	}, []string{"check"})

	healthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guestgate_healthy",
		Help: "Overall health (1 healthy, 0.5 degraded, 0 unhealthy)",
	})

	// Event log
	eventLogErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guestgate_event_log_errors_total",
		Help: "Failed writes to the access event log",
	})
)

func IncCodeIssued()      { codesIssuedTotal.Inc() }
func IncCodegenFallback() { codegenFallbackTotal.Inc() }

func SetActiveCredentials(n int) { credentialsActive.Set(float64(n)) }

func IncAccessGranted()             { accessGrantedTotal.Inc() }
func IncAccessDenied(reason string) { accessDeniedTotal.WithLabelValues(reason).Inc() }

func IncUnlock(outcome string) { unlocksTotal.WithLabelValues(outcome).Inc() }
func IncRelock(outcome string) { relocksTotal.WithLabelValues(outcome).Inc() }

func SetDoorsUnsecured(n int) { doorsUnsecured.Set(float64(n)) }

func IncNotification(kind, outcome string) {
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordPollCycle(outcome string) { pollCyclesTotal.WithLabelValues(outcome).Inc() }
func IncPollOverlapSkip()            { pollOverlapSkipsTotal.Inc() }

func ObservePollDuration(d time.Duration) {
	pollDurationSeconds.Observe(d.Seconds())
}

func IncReservationProcessed() { reservationsProcessedTotal.Inc() }

func RecordHealthCheck(check string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	healthCheckUp.WithLabelValues(check).Set(v)
}

// SetOverallHealth maps the health manager's tri-state onto a gauge.
func SetOverallHealth(status string) {
	switch status {
	case "healthy":
		healthy.Set(1)
	case "degraded":
		healthy.Set(0.5)
	default:
		healthy.Set(0)
	}
}

func IncEventLogError() { eventLogErrorsTotal.Inc() }
