package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var callbackResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nibebridge_oauth_callback_total",
		Help: "Authorization callback outcomes",
	},
	[]string{"result"},
)
