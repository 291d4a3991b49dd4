// Package health provides health check handlers for Kubernetes probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
)

// Status represents the health of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the payload for the health endpoints.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is a named health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) CheckResult
}

func (cf CheckerFunc) Name() string                          { return cf.CheckerName }
func (cf CheckerFunc) Check(ctx context.Context) CheckResult { return cf.Fn(ctx) }

// Handler serves liveness and readiness probes.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewHandler creates an empty health handler.
func NewHandler() *Handler {
	return &Handler{}
}

// AddChecker registers a readiness check.
func (h *Handler) AddChecker(checker Checker) {
	h.mu.Lock()
	h.checkers = append(h.checkers, checker)
	h.mu.Unlock()
}

// LivenessHandler serves /healthz. Returns 200 whenever the process runs.
func (h *Handler) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{Status: StatusHealthy})
}

// ReadinessHandler serves /readyz, running every registered check.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.RLock()
	checkers := h.checkers
	h.mu.RUnlock()

	response := Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}

	for _, checker := range checkers {
		result := checker.Check(ctx)
		response.Checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			response.Status = StatusUnhealthy
		case StatusDegraded:
			if response.Status == StatusHealthy {
				response.Status = StatusDegraded
			}
		case StatusHealthy:
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// DatabaseChecker verifies persistence store connectivity.
type DatabaseChecker struct {
	pool    pool.Pool
	timeout time.Duration
}

// NewDatabaseChecker creates a database checker with the given timeout.
func NewDatabaseChecker(p pool.Pool, timeout time.Duration) *DatabaseChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DatabaseChecker{pool: p, timeout: timeout}
}

func (d *DatabaseChecker) Name() string { return "database" }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()

	sqlDB, err := d.pool.DB(ctx, true).DB()
	if err != nil {
		return CheckResult{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		return CheckResult{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}

	return CheckResult{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
}
