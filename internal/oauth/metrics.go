package oauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_refresh_success_total",
		Help: "Successful token refreshes",
	})
	refreshFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_refresh_failure_total",
		Help: "Failed token refreshes",
	})
	exchangeFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_exchange_failure_total",
		Help: "Failed authorization code exchanges",
	})
	tokenValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nibebridge_oauth_token_valid",
		Help: "Access token validity (1=valid, 0=invalid)",
	})
	persistOK = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nibebridge_oauth_persist_ok",
		Help: "Credential persistence health (1=ok, 0=error)",
	})
	scopeMismatch = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_scope_mismatch_total",
		Help: "Scope mismatches between configuration and stored state",
	})

	attemptsBegun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_attempts_begun_total",
		Help: "Authorization attempts started",
	})
	attemptsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_attempts_completed_total",
		Help: "Authorization attempts completed successfully",
	})
	attemptsUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nibebridge_oauth_attempts_unknown_total",
		Help: "Callbacks carrying an unknown or already redeemed state token",
	})
)
