package main

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

func setupRouter(collector *metrics.Collector, store *courseStore, logger *slog.Logger) *mux.Router {
	h := &courseHandler{store: store, logger: logger}

	r := mux.NewRouter()
	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(collector.Middleware)
	api.HandleFunc("/courses", h.create).Methods(http.MethodPost)
	api.HandleFunc("/courses", h.list).Methods(http.MethodGet)
	api.HandleFunc("/courses/{id}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
