// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowvalet/flowvalet/pkg/log"
)

// HealthFunc reports per-buffer health for /healthz: buffer id to error, nil
// meaning healthy. A degraded buffer turns the overall status to 503 but the
// process keeps running.
type HealthFunc func() map[string]error

// Server is the router's entire HTTP surface: /metrics and /healthz, nothing
// else.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server on addr.
func NewServer(addr string, reg *Registry, health HealthFunc) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		body := map[string]string{}
		if health != nil {
			for id, err := range health() {
				if err != nil {
					status = http.StatusServiceUnavailable
					body[id] = err.Error()
				} else {
					body[id] = "ok"
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	return &Server{srv: &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics: http server: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
