package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veildata-systems/veilpipe/internal/config"
	"github.com/veildata-systems/veilpipe/internal/engine"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// EngineOps is the slice of engine behavior the admin surface needs.
type EngineOps interface {
	Stats() engine.Stats
	Pause()
	Resume()
	DeadLetters(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error)
	ReplayDeadLetter(ctx context.Context, id string) error
	ReplayAllDeadLetters(ctx context.Context) (int, error)
	Checkpoints(ctx context.Context, limit int) ([]*model.Checkpoint, error)
}

// NewRouter constructs a ServeMux with the admin routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	// Method routing keeps mutations off GET.
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/dlq", h.DeadLetters)
	mux.HandleFunc("POST /api/v1/dlq/{id}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("GET /api/v1/checkpoints", h.Checkpoints)
	mux.HandleFunc("POST /api/v1/pause", h.Pause)
	mux.HandleFunc("POST /api/v1/resume", h.Resume)
	return mux
}

// NewServer wraps the router in an http.Server with the configured
// timeouts.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
