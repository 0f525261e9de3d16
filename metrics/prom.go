package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_paste_retrieved_total",
		Help: "no. of pastes served to a reader",
	})
	PasteUnavailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortpaste_paste_unavailable_total",
			Help: "no. of reads answered with not found, by internal reason",
		},
		[]string{"reason"},
	)
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortpaste_store_errors_total",
			Help: "no. of backing store failures",
		},
		[]string{"backend", "op"},
	)
	HealthCheckFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_health_check_failures_total",
		Help: "no. of failed store pings",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shortpaste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	PrunedPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_pruned_pastes_total",
		Help: "no. of time-expired records removed by the cleanup worker",
	})
	LoggedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortpaste_logged_errors_total",
		Help: "no. of log events at error level or above",
	})
)
