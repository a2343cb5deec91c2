package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_backend_requests_total",
		Help: "Backend requests by method and response status.",
	}, []string{"method", "status"})

	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_token_refreshes_total",
		Help: "Token refresh attempts.",
	})

	refreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_token_refresh_failures_total",
		Help: "Token refresh attempts that failed or returned no token.",
	})

	hardLogoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_hard_logouts_total",
		Help: "Sessions terminated after unrecoverable auth failure.",
	})
)
