package rate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokensGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nibebridge_rate_tokens",
		Help: "Remaining tokens in the per-minute request bucket",
	})
	cooldownGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nibebridge_rate_cooldown_seconds",
		Help: "Length of the active server-driven cooldown, 0 when idle",
	})
	lastStatusGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nibebridge_rate_last_status_code",
		Help: "Last HTTP status code seen by the rate guard",
	})
	blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_rate_blocked_total",
		Help: "Requests refused locally before reaching the cloud",
	})
	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_rate_throttled_total",
		Help: "429 responses received from the cloud",
	})
)
