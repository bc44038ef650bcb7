package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spotpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets: []float64{
				0.01, 0.02, 0.03, 0.05, 0.08, 0.12,
				0.2, 0.3, 0.5, 0.8, 1.2, 2, 3, 5,
			},
		},
		[]string{"route", "status"},
	)

	PaymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "payment_transitions_total",
			Help:      "Payment state transitions by purpose and terminal status.",
		},
		[]string{"purpose", "status"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "provider_callbacks_total",
			Help:      "Provider callbacks by outcome (applied, duplicate, informational, rejected).",
		},
		[]string{"result"},
	)

	ChargeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spotpay",
			Name:      "provider_charge_duration_seconds",
			Help:      "Outbound provider charge latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)

	FulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "fulfillments_total",
			Help:      "Fulfillment runs by purpose and result.",
		},
		[]string{"purpose", "result"},
	)

	VoucherReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "voucher_reservations_total",
			Help:      "Voucher reservation attempts by result.",
		},
		[]string{"result"},
	)

	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "ledger_entries_total",
			Help:      "Ledger postings by kind and reason.",
		},
		[]string{"kind", "reason"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "notifications_total",
			Help:      "Voucher notification deliveries by result.",
		},
		[]string{"result"},
	)

	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spotpay",
			Name:      "lock_timeouts_total",
			Help:      "Transactions aborted by a bounded lock wait.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentTransitions,
		CallbacksTotal,
		ChargeDuration,
		FulfillmentsTotal,
		VoucherReservations,
		LedgerEntries,
		NotificationsTotal,
		LockTimeouts,
	)
}

func ObserveRequest(route, method, status string, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

func ObserveCharge(provider, status string, elapsed time.Duration) {
	ChargeDuration.WithLabelValues(provider, status).Observe(elapsed.Seconds())
}

func IncTransition(purpose, status string) {
	PaymentTransitions.WithLabelValues(purpose, status).Inc()
}

func IncCallback(result string) {
	CallbacksTotal.WithLabelValues(result).Inc()
}

func IncFulfillment(purpose, result string) {
	FulfillmentsTotal.WithLabelValues(purpose, result).Inc()
}

func IncReservation(result string) {
	VoucherReservations.WithLabelValues(result).Inc()
}

func IncLedgerEntry(kind, reason string) {
	LedgerEntries.WithLabelValues(kind, reason).Inc()
}

func IncNotification(result string) {
	NotificationsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
