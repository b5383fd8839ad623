package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var signInCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modconsole_signin_total",
	Help: "Number of sign-in attempts, by outcome.",
}, []string{"outcome"})

var reconfigureCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "modconsole_reconfigure_total",
	Help: "Number of manual readiness reconfigurations.",
})

// Encodes the readiness enum; values match readiness.State ordering.
var readinessStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "modconsole_readiness_state",
	Help: "Current readiness state (0 unavailable, 1 pending, 2 unconfigured, 3 unauthorized, 4 ready).",
})

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
