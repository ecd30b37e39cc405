package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mealzee_auth"

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time taken to process HTTP requests",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	OTPSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_send_total",
			Help:      "OTP send requests by outcome",
		},
		[]string{"channel", "outcome"},
	)

	OTPVerifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verify_total",
			Help:      "OTP verifications by outcome",
		},
		[]string{"channel", "outcome"},
	)

	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_degraded_total",
			Help:      "Sends and verifications that fell back to the format-only check",
		},
		[]string{"stage"},
	)

	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_lockouts_total",
			Help:      "Phones locked after repeated failures",
		},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of verification provider calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "operation", "ok"},
	)

	StoreEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_entries",
			Help:      "Live entries per store",
		},
		[]string{"backend", "store"},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Security events dropped because the audit buffer was full",
		},
	)

	AuditSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_errors_total",
			Help:      "Failed writes per audit sink",
		},
		[]string{"sink"},
	)
)

// RecordRequest records the duration of an HTTP request
func RecordRequest(method, route string, status int, start time.Time) {
	RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

func RecordSend(channel, outcome string) {
	OTPSendTotal.WithLabelValues(channel, outcome).Inc()
}

func RecordVerify(channel, outcome string) {
	OTPVerifyTotal.WithLabelValues(channel, outcome).Inc()
}

func RecordDegraded(stage string) {
	DegradedTotal.WithLabelValues(stage).Inc()
}

func RecordProviderCall(provider, operation string, ok bool, start time.Time) {
	ProviderDuration.WithLabelValues(provider, operation, strconv.FormatBool(ok)).Observe(time.Since(start).Seconds())
}

func SetStoreEntries(backend, store string, n int) {
	StoreEntries.WithLabelValues(backend, store).Set(float64(n))
}
