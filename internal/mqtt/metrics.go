package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_mqtt_publish_total",
		Help: "Messages published to the broker",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_mqtt_publish_errors_total",
		Help: "Failed broker publishes",
	})
)
