package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/config"
	"github.com/healthsync/connector-engine/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"goVersion"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health statuses. Degraded means an optional dependency is down; requests
// still succeed without it.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthCheck is one dependency probed by GET /health.
type HealthCheck struct {
	Name   string
	Pinger Pinger
	// Required checks turn the service unavailable when they fail.
	Required bool
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	checks []HealthCheck
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. With no checks /health
// always reports ok.
func NewHealthHandler(cfg *config.Config, logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{cfg: cfg, checks: checks, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health probes every check concurrently and reports 503 when a required
// one fails.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	errs := make([]error, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Pinger.Ping(ctx)
		}()
	}
	wg.Wait()

	resp := HealthResponse{Status: HealthOK, Checks: make(map[string]string, len(h.checks))}
	for i, c := range h.checks {
		if errs[i] == nil {
			resp.Checks[c.Name] = HealthOK
			continue
		}
		h.logger.Warn("Health check failed", zap.String("check", c.Name), logging.SafeError(errs[i]))
		resp.Checks[c.Name] = logging.SanitizeError(errs[i])
		switch {
		case c.Required:
			resp.Status = HealthUnavailable
		case resp.Status == HealthOK:
			resp.Status = HealthDegraded
		}
	}

	status := http.StatusOK
	if resp.Status == HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeOK(w, status, resp, h.logger)
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	writeOK(w, http.StatusOK, PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "connector-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}, h.logger)
}
