package server

import (
	"context"
	"net/http"
	"time"

	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/video"
)

// Component health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServiceName identifies this API in health responses.
const ServiceName = "object-finder-api"

// HealthChecker provides health check capabilities.
type HealthChecker struct {
	store objects.Store
	video SearchCache
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(store objects.Store, v SearchCache) *HealthChecker {
	return &HealthChecker{store: store, video: v}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"`
	Service    string               `json:"service"`
	Version    string               `json:"version,omitempty"`
	Database   string               `json:"database"`
	Uptime     string               `json:"uptime,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
	Components map[string]Component `json:"components"`
	Endpoints  map[string]string    `json:"endpoints"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// Check performs a full health check. A store that cannot be reached
// degrades the service; it keeps answering from the video side.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Service:    ServiceName,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]Component),
		Endpoints: map[string]string{
			"upload":  "/api/upload",
			"objects": "/api/objects",
			"search":  "/api/search",
			"events":  "/api/events",
			"metrics": "/metrics",
			"health":  "/health",
		},
	}

	db := h.checkStore(ctx)
	status.Components["database"] = db
	if db.Status == StatusHealthy {
		status.Database = "connected"
	} else {
		status.Database = "error: " + db.Message
		status.Status = StatusDegraded
		if h.store == nil {
			status.Status = StatusUnhealthy
		}
	}

	vs := h.checkVideo()
	status.Components["video_service"] = vs
	if vs.Status != StatusHealthy && status.Status == StatusHealthy {
		status.Status = StatusDegraded
	}

	return status
}

// checkStore pings the object store.
func (h *HealthChecker) checkStore(ctx context.Context) Component {
	if h.store == nil {
		return Component{Status: StatusUnhealthy, Message: "store not configured"}
	}

	start := time.Now()
	err := h.store.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Component{Status: StatusUnhealthy, Message: err.Error(), Latency: latency}
	}
	return Component{Status: StatusHealthy, Message: "connected", Latency: latency}
}

// checkVideo reports the client mode and whether its breaker is open.
func (h *HealthChecker) checkVideo() Component {
	if h.video == nil {
		return Component{Status: StatusUnhealthy, Message: "video client not configured"}
	}

	if h.video.Mode() == video.ModeMock {
		return Component{Status: StatusHealthy, Message: "mock (API key not configured)"}
	}

	if state := h.video.BreakerState(); state != "closed" {
		return Component{Status: StatusDegraded, Message: "circuit breaker " + state}
	}
	return Component{Status: StatusHealthy, Message: "live"}
}

// HealthHandler handles health and banner HTTP requests.
type HealthHandler struct {
	checker   *HealthChecker
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker *HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterRoutes registers health routes.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleRoot handles GET /.
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Object Finder API is running!",
		"health":  "Visit /health for health check",
		"version": h.version,
		"status":  "active",
	})
}

// HandleHealth handles GET /health. It answers 200 unless the service is
// unhealthy.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.checker.Check(ctx)
	status.Version = h.version
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
