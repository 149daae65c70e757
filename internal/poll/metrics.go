package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nibebridge_poll_cycles_total",
			Help: "Completed poll cycles per system",
		},
		[]string{"system"},
	)
	cycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nibebridge_poll_cycle_errors_total",
			Help: "Fetch failures during poll cycles",
		},
		[]string{"system", "stage"},
	)
	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nibebridge_poll_cycle_duration_seconds",
			Help:    "Poll cycle wall time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"system"},
	)
	parametersFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nibebridge_poll_parameters_fetched_total",
			Help: "Individual parameter fetches that succeeded",
		},
		[]string{"system"},
	)
	pendingParameters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nibebridge_poll_pending_parameters",
			Help: "Subscribed parameters still missing at cycle start",
		},
		[]string{"system"},
	)
	schedulerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nibebridge_poll_scheduler_panics_total",
			Help: "Scheduled actions that panicked and were rescheduled",
		},
	)
)
