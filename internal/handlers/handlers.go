// Package handlers serves the operational HTTP surface: liveness and readiness probes,
// the metrics scrape and a broker health summary.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
	"queue-router/internal/metrics"
	"queue-router/internal/state"
)

const (
	aliveBody    = "I'm alive!"
	deadBody     = "I'm dead!"
	readyBody    = "I'm ready!"
	notReadyBody = "Please wait, I'm not ready!"

	// DefaultHealthTimeout bounds the broker check of /health
	DefaultHealthTimeout = 2 * time.Second
)

type Handlers struct {
	state         *state.ApplicationState
	metrics       *metrics.Metrics
	broker        brokers.Connection
	healthTimeout time.Duration
}

// Option configures Handlers
type Option func(*Handlers)

// WithHealthTimeout overrides DefaultHealthTimeout
func WithHealthTimeout(d time.Duration) Option {
	return func(h *Handlers) { h.healthTimeout = d }
}

// New creates the handlers. broker may be nil when no connection is up yet.
func New(appState *state.ApplicationState, m *metrics.Metrics, broker brokers.Connection, opts ...Option) *Handlers {
	h := &Handlers{
		state:         appState,
		metrics:       m,
		broker:        broker,
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsAlive reports 200 while the route workers are running
func (h *Handlers) IsAlive(w http.ResponseWriter, r *http.Request) {
	if h.state.Running() {
		writeText(w, http.StatusOK, aliveBody)
		return
	}
	writeText(w, http.StatusInternalServerError, deadBody)
}

// IsReady reports 200 once every route worker has been started
func (h *Handlers) IsReady(w http.ResponseWriter, r *http.Request) {
	if h.state.Ready() {
		writeText(w, http.StatusOK, readyBody)
		return
	}
	writeText(w, http.StatusInternalServerError, notReadyBody)
}

// Prometheus serves the metrics scrape; name[] parameters filter families
func (h *Handlers) Prometheus(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// HealthCheck summarises process and broker state as JSON
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]interface{}{
		"status":    "healthy",
		"running":   h.state.Running(),
		"ready":     h.state.Ready(),
		"timestamp": time.Now(),
	}

	if h.broker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
		defer cancel()

		health["broker"] = h.broker.Name()
		if err := h.broker.Health(ctx); err != nil {
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = errors.TimeoutError("broker health check").WithContext("broker", h.broker.Name())
			}
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["error"] = err.Error()
		}
	}
	if !h.state.Running() {
		status = http.StatusServiceUnavailable
		health["status"] = "stopping"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		logging.Warn("Failed to encode health response", logging.Err(err))
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
