package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reservas"

var (
	once sync.Once

	lockAcquire = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "Count of slot hold requests by result.",
		},
		[]string{"result"},
	)

	activeLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_locks",
			Help:      "Unexpired slot holds at the last sweep.",
		},
	)

	codeRedeem = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_redeem_total",
			Help:      "Count of discount code redemptions by result.",
		},
		[]string{"result"},
	)

	confirm = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_total",
			Help:      "Count of booking confirmations by outcome.",
		},
		[]string{"outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"op", "status"},
	)

	reconcile = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Count of payment reconciliations by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(lockAcquire, activeLocks, codeRedeem, confirm, gatewayDuration, reconcile, httpRequests)
	})
}

func IncLockAcquire(result string) {
	lockAcquire.WithLabelValues(result).Inc()
}

func SetActiveLocks(n int) {
	activeLocks.Set(float64(n))
}

func IncCodeRedeem(result string) {
	codeRedeem.WithLabelValues(result).Inc()
}

func IncConfirm(outcome string) {
	confirm.WithLabelValues(outcome).Inc()
}

func ObserveGateway(op, status string, seconds float64) {
	gatewayDuration.WithLabelValues(op, status).Observe(seconds)
}

func IncReconcile(outcome string) {
	reconcile.WithLabelValues(outcome).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
