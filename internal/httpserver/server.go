package httpserver

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter returns a router with request logging and per-route request
// counting already attached. Binaries register their routes on it and hand
// it to http.Server directly.
func NewRouter(requests *prometheus.CounterVec) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument(requests))
	return r
}
