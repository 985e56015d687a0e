package server

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/cache"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/video"
)

// Defaults for the history and event log queries.
const (
	defaultHistoryWindow = time.Hour
	defaultEventLimit    = 100
	maxEventLimit        = 1000
)

// SearchCache is the part of the video client the admin surface manages.
type SearchCache interface {
	CacheStats() cache.Stats
	ClearCache()
	Mode() video.Mode
	BreakerState() string
}

// HistoryReader reads persisted call durations.
type HistoryReader interface {
	LoadHistory(ctx context.Context, metric string, since time.Time) ([]metrics.DataPoint, error)
	MetricNames(ctx context.Context) ([]string, error)
}

// AdminHandler serves the observability surface.
type AdminHandler struct {
	inst      *metrics.Instrumentor
	cache     SearchCache
	history   HistoryReader
	events    *bus.EventLogger
	log       *logger.Logger
	startTime time.Time
	now       func() time.Time
}

// NewAdminHandler creates an admin handler. history and events may be nil,
// in which case their endpoints answer 503.
func NewAdminHandler(inst *metrics.Instrumentor, c SearchCache, history HistoryReader, events *bus.EventLogger, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &AdminHandler{
		inst:      inst,
		cache:     c,
		history:   history,
		events:    events,
		log:       log.WithComponent("admin"),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/metrics", h.handleMetrics)
	mux.HandleFunc("POST /api/admin/cache/clear", h.handleClearCache)
	mux.HandleFunc("POST /api/admin/metrics/reset", h.handleResetMetrics)
	mux.HandleFunc("GET /api/admin/metrics/history", h.handleHistory)
	mux.HandleFunc("GET /api/admin/events", h.handleEvents)
	mux.Handle("GET /metrics", h.inst.Handler())
}

// MetricsResponse is the body of GET /api/admin/metrics.
type MetricsResponse struct {
	Performance map[string]metrics.Metric `json:"performance_metrics"`
	Cache       CacheStats                `json:"cache_stats"`
	System      SystemInfo                `json:"system_info"`
}

// CacheStats describes the search cache.
type CacheStats struct {
	Size        int     `json:"search_cache_size"`
	MaxSize     int     `json:"search_cache_max_size"`
	TTLSeconds  float64 `json:"search_cache_ttl"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
}

// SystemInfo describes the running process.
type SystemInfo struct {
	Timestamp     float64 `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	VideoMode     string  `json:"video_mode"`
	BreakerState  string  `json:"breaker_state"`
	Goroutines    int     `json:"goroutines"`
}

// handleMetrics handles GET /api/admin/metrics
func (h *AdminHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	stats := h.cache.CacheStats()

	writeJSON(w, http.StatusOK, MetricsResponse{
		Performance: h.inst.Snapshot(),
		Cache: CacheStats{
			Size:        stats.Size,
			MaxSize:     stats.MaxSize,
			TTLSeconds:  stats.TTLSeconds,
			Hits:        stats.Hits,
			Misses:      stats.Misses,
			Evictions:   stats.Evictions,
			Expirations: stats.Expirations,
		},
		System: SystemInfo{
			Timestamp:     float64(now.UnixMilli()) / 1000,
			UptimeSeconds: now.Sub(h.startTime).Seconds(),
			VideoMode:     string(h.cache.Mode()),
			BreakerState:  h.cache.BreakerState(),
			Goroutines:    runtime.NumGoroutine(),
		},
	})
}

// handleClearCache handles POST /api/admin/cache/clear
func (h *AdminHandler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.ClearCache()
	h.log.WithContext(r.Context()).Info("Search cache cleared")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Cache cleared successfully"})
}

// handleResetMetrics handles POST /api/admin/metrics/reset
func (h *AdminHandler) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.inst.Reset()
	h.log.WithContext(r.Context()).Info("Metrics reset")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Metrics reset successfully"})
}

// handleHistory handles GET /api/admin/metrics/history?metric=&since=
//
// Without metric it lists the operations that have history.
func (h *AdminHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		errors.WriteError(w, r, errors.ServiceUnavailableError("metrics history"))
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		names, err := h.history.MetricNames(r.Context())
		if err != nil {
			errors.WriteError(w, r, errors.Wrap(errors.CodeUnavailable, "failed to read metrics history", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"metrics": names})
		return
	}

	window := defaultHistoryWindow
	if s := r.URL.Query().Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			errors.WriteError(w, r, errors.ValidationError("since must be a positive duration such as 30m or 24h"))
			return
		}
		window = d
	}

	points, err := h.history.LoadHistory(r.Context(), metric, h.now().Add(-window))
	if err != nil {
		errors.WriteError(w, r, errors.Wrap(errors.CodeUnavailable, "failed to read metrics history", err))
		return
	}
	if points == nil {
		points = []metrics.DataPoint{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metric": metric,
		"since":  window.String(),
		"points": points,
	})
}

// handleEvents handles
// GET /api/admin/events?since=&limit=&topic=&object_id=&video_no=&correlation_id=
func (h *AdminHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		errors.WriteError(w, r, errors.ServiceUnavailableError("event log"))
		return
	}

	q := r.URL.Query()
	filter := bus.EventFilter{
		Limit:         defaultEventLimit,
		Topic:         q.Get("topic"),
		CorrelationID: q.Get("correlation_id"),
		RecordingID:   q.Get("video_no"),
	}

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxEventLimit {
			errors.WriteError(w, r, errors.ValidationError("limit must be between 1 and 1000"))
			return
		}
		filter.Limit = n
	}

	if s := q.Get("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			errors.WriteError(w, r, errors.ValidationError("since must be a positive duration such as 30m or 24h"))
			return
		}
		filter.Since = h.now().Add(-d)
	}

	if filter.Topic != "" && !slices.Contains(bus.AllTopics, filter.Topic) {
		errors.WriteError(w, r, errors.ValidationError("topic must be one of "+strings.Join(bus.AllTopics, ", ")))
		return
	}

	if s := q.Get("object_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 1 {
			errors.WriteError(w, r, errors.ValidationError("object_id must be a positive integer"))
			return
		}
		filter.ObjectID = id
	}

	events, err := h.events.Query(filter)
	if err != nil {
		errors.WriteError(w, r, errors.Wrap(errors.CodeUnavailable, "failed to read event log", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
