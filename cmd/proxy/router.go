package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

func setupRouter(prefix string, proxyHandler http.Handler, collector *metrics.Collector, prom *metrics.Prometheus) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	r.Handle("/prometheus", prom.Handler()).Methods(http.MethodGet)
	proxied := collector.Middleware(proxyHandler)
	if prefix = strings.TrimSuffix(prefix, "/"); prefix == "" {
		r.PathPrefix("/").Handler(proxied)
	} else {
		r.Handle(prefix, proxied)
		r.PathPrefix(prefix + "/").Handler(proxied)
	}

	return r
}
