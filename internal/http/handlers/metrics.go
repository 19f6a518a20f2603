package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the Prometheus registry.
func Metrics() http.Handler {
	return promhttp.Handler()
}
