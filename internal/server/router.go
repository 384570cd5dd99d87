// Package server mounts the daemon's HTTP surface: probes, metrics, an
// optional WebSocket endpoint and a slow endpoint for exercising drains.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/shutdown-sequencer/internal/lifecycle"
	"github.com/Proton-105/shutdown-sequencer/pkg/logger"
)

const maxWorkDuration = 30 * time.Second

// JobEnqueuer submits background work tasks.
type JobEnqueuer interface {
	EnqueueWork(ctx context.Context, d time.Duration) (string, error)
}

// Options configures NewRouter. WebSocket and Jobs may be nil.
type Options struct {
	Probes        lifecycle.HealthChecker
	WebSocket     http.Handler
	WebSocketPath string
	Jobs          JobEnqueuer
}

// NewRouter builds the HTTP handler tree.
func NewRouter(log *slog.Logger, opts Options) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", probeHandler(opts.Probes, func(ctx context.Context, p lifecycle.HealthChecker) error {
		return p.Liveness(ctx)
	}))
	mux.HandleFunc("GET /readyz", probeHandler(opts.Probes, func(ctx context.Context, p lifecycle.HealthChecker) error {
		return p.Readiness(ctx)
	}))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /work", work)

	if opts.Jobs != nil {
		mux.HandleFunc("POST /jobs", enqueueJob(log, opts.Jobs))
	}
	if opts.WebSocket != nil && opts.WebSocketPath != "" {
		mux.Handle(opts.WebSocketPath, opts.WebSocket)
	}

	return logger.Middleware(log, mux)
}

type probeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func probeHandler(p lifecycle.HealthChecker, probe func(context.Context, lifecycle.HealthChecker) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := probeResponse{Status: "ok"}

		if p != nil {
			if err := probe(r.Context(), p); err != nil {
				status = http.StatusServiceUnavailable
				body = probeResponse{Status: "unavailable", Error: err.Error()}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func parseDuration(r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("duration")
	if raw == "" {
		return time.Second, true
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, false
	}
	return min(d, maxWorkDuration), true
}

// work holds the request open for ?duration= (default 1s) so drains can be observed.
func work(w http.ResponseWriter, r *http.Request) {
	d, ok := parseDuration(r)
	if !ok {
		http.Error(w, "invalid duration", http.StatusBadRequest)
		return
	}

	select {
	case <-time.After(d):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

type jobResponse struct {
	ID string `json:"id"`
}

// enqueueJob queues a work task of ?duration= (default 1s).
func enqueueJob(log *slog.Logger, jobs JobEnqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := parseDuration(r)
		if !ok {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}

		id, err := jobs.EnqueueWork(r.Context(), d)
		if err != nil {
			log.Warn("failed to enqueue job", slog.Any("error", err))
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(jobResponse{ID: id})
	}
}
