package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// HealthStatus is the body of the readiness endpoints
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// ProbeFunc returns nil when a dependency is usable
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name string
	// critical probes make the service unhealthy; the rest only degrade it
	critical bool
	fn       ProbeFunc
}

// HealthChecker runs dependency probes for the readiness endpoints
type HealthChecker struct {
	version string
	probes  []probe
}

// NewHealthChecker probes the database (critical) and Redis (degrading).
// Either may be nil. More probes can be added with AddCheck.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.AddCheck("database", true, func(ctx context.Context) error {
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		})
	}
	if rdb != nil {
		// A snapshot cache outage means every check rebuilds from the database
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return h
}

func (h *HealthChecker) AddCheck(name string, critical bool, fn ProbeFunc) {
	h.probes = append(h.probes, probe{name: name, critical: critical, fn: fn})
}

// Check runs every probe in registration order
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	out := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		start := time.Now()
		err := p.fn(ctx)
		dep := DependencyStatus{
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: start.UTC(),
		}
		if err != nil {
			dep.Status, dep.Message = StatusUnhealthy, err.Error()
			switch {
			case p.critical:
				out.Status = StatusUnhealthy
			case out.Status == StatusHealthy:
				out.Status = StatusDegraded
			}
		}
		out.Dependencies[p.name] = dep
	}
	return out
}

// Liveness answers 200 while the process can serve HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Version: h.version})
}

// Readiness answers 503 only when a critical probe fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
