// Package video talks to the video-understanding service that indexes
// uploaded recordings. Every call has a local fallback, so callers only ever
// see values, never upstream failures.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/objectfinder/object-finder/internal/cache"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/pkg/security"
)

// Mode reports whether the client reaches the live service.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// Upload statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// DefaultBaseURL is the hosted service endpoint.
const DefaultBaseURL = "https://mavi-backend.memories.ai/api/serve"

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 10 << 20

var (
	// ErrMalformedResponse is returned when the service answers 2xx with a
	// body of the wrong shape.
	ErrMalformedResponse = errors.New("malformed response from video service")
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("video service returned %d: %s", e.StatusCode, e.Body)
}

// Config configures the client.
type Config struct {
	// APIKey authenticates against the service. Empty means mock mode for
	// the lifetime of the client.
	APIKey string

	// BaseURL is the service root, without trailing slash.
	BaseURL string

	// Timeout bounds each call, including reading the response.
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. While open, live calls go straight to the fallback.
	BreakerFailures uint32

	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         5 * time.Minute,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// UploadResult describes an accepted upload.
type UploadResult struct {
	RecordingID string `json:"video_no"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Mock        bool   `json:"mock"`
}

// Client calls the video service through a search cache, a circuit breaker
// and the call instrumentor.
type Client struct {
	cfg        Config
	mode       Mode
	httpClient *http.Client
	cache      *cache.TTLCache[string, []Candidate]
	inst       *metrics.Instrumentor
	breaker    *gobreaker.CircuitBreaker
	flights    singleflight.Group
	log        *logger.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the search result cache.
func WithCache(c *cache.TTLCache[string, []Candidate]) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithInstrumentor sets the call instrumentor.
func WithInstrumentor(inst *metrics.Instrumentor) Option {
	return func(cl *Client) {
		cl.inst = inst
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = hc
	}
}

// WithClock overrides the time source used for mock ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		cl.now = now
	}
}

// New creates a client. Missing collaborators get private defaults.
func New(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaults.BreakerCooldown
	}

	c := &Client{
		cfg:        cfg,
		mode:       ModeLive,
		httpClient: &http.Client{},
		log:        logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.New[string, []Candidate](50, 10*time.Minute)
	}
	if c.inst == nil {
		c.inst = metrics.NewInstrumentor()
	}
	c.log = c.log.WithComponent("video")

	if cfg.APIKey == "" {
		c.mode = ModeMock
		c.log.Warn("MEMORIES_AI_API_KEY not set, video service calls will return mock responses")
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "video-service",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A caller giving up says nothing about the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// Mode reports live or mock.
func (c *Client) Mode() Mode {
	return c.mode
}

// CacheStats returns search cache statistics.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// ClearCache drops every cached search result.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// IsMockRecording reports whether id was minted by a mock upload.
func IsMockRecording(id string) bool {
	return strings.HasPrefix(id, MockPrefix)
}

// UploadVideo uploads a recording. Any service failure yields a mock result;
// only failing to read r is returned as an error.
func (c *Client) UploadVideo(ctx context.Context, r io.Reader, filename, contentType string) (UploadResult, error) {
	if c.mode == ModeMock {
		return metrics.Timed(ctx, c.inst, metrics.OpVideoUpload, func(ctx context.Context) (UploadResult, error) {
			return mockUpload(c.now(), filename), nil
		})
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return UploadResult{}, fmt.Errorf("reading upload: %w", err)
	}

	result, err := metrics.Timed(ctx, c.inst, metrics.OpVideoUpload, func(ctx context.Context) (UploadResult, error) {
		return c.uploadLive(ctx, data, filename, contentType)
	})
	if err != nil {
		c.log.Warn("Upload failed, using mock response", "filename", filename, "error", err)
		return mockUpload(c.now(), filename), nil
	}
	return result, nil
}

func (c *Client) uploadLive(ctx context.Context, data []byte, filename, contentType string) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	respBody, err := c.do(ctx, "/video/upload", mw.FormDataContentType(), &body)
	if err != nil {
		return UploadResult{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return UploadResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := UploadResult{
		Status:  StatusProcessing,
		Message: "Upload successful",
	}
	if v, ok := first(raw, "videoNo", "id"); ok {
		if id, err := decodeString(v); err == nil {
			result.RecordingID = id
		}
	}
	if result.RecordingID == "" {
		result.RecordingID = "video_" + strconv.FormatInt(c.now().Unix(), 10)
	}
	if v, ok := raw["status"]; ok {
		if s, err := decodeString(v); err == nil && s != "" {
			result.Status = s
		}
	}

	return result, nil
}

// cacheKey is the search cache key for a query and limit.
func cacheKey(query string, limit int) string {
	return "search_" + query + "_" + strconv.Itoa(limit)
}

// SearchVideos returns the candidates matching query, best first. Cached
// results are returned without calling the service. Failures yield an empty
// slice and are not cached; neither are empty results.
func (c *Client) SearchVideos(ctx context.Context, query string, limit int) []Candidate {
	key := cacheKey(query, limit)

	if cached, ok := c.cache.Get(key); ok {
		c.log.Debug("Search cache hit", "query", security.SanitizeForLog(query))
		return slices.Clone(cached)
	}

	// Concurrent misses for the same key share one upstream call. The flight
	// must not die with whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)

	v, _, _ := c.flights.Do(key, func() (any, error) {
		candidates, err := metrics.Timed(flightCtx, c.inst, metrics.OpVideoSearch, func(ctx context.Context) ([]Candidate, error) {
			return c.searchUpstream(ctx, query, limit)
		})
		if err != nil {
			c.log.Warn("Video search failed", "query", security.SanitizeForLog(query), "error", err)
			return []Candidate{}, nil
		}
		if len(candidates) > 0 {
			c.cache.Set(key, candidates)
		}
		return candidates, nil
	})

	return slices.Clone(v.([]Candidate))
}

func (c *Client) searchUpstream(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if c.mode == ModeMock {
		return mockSearch(c.now(), query), nil
	}

	payload, err := json.Marshal(map[string]any{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, "/video/searchAI", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	candidates, skipped, err := decodeCandidates(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, e := range skipped {
		c.log.Warn("Skipping malformed search candidate", "error", e)
	}
	if len(candidates) == 0 && len(skipped) > 0 {
		return nil, fmt.Errorf("%w: no decodable candidates", ErrMalformedResponse)
	}
	return candidates, nil
}

// DescribeLocation asks the service where the object is in the recording.
// Any failure yields one of MockLocations.
func (c *Client) DescribeLocation(ctx context.Context, recordingID, prompt string) string {
	description, err := metrics.Timed(ctx, c.inst, metrics.OpVideoChat, func(ctx context.Context) (string, error) {
		if c.mode == ModeMock {
			return mockLocation(), nil
		}
		return c.chatLive(ctx, recordingID, prompt)
	})
	if err != nil {
		c.log.Warn("Location description failed, using mock response", "recording_id", recordingID, "error", err)
		return mockLocation()
	}
	return description
}

func (c *Client) chatLive(ctx context.Context, recordingID, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"videoNos": []string{recordingID},
		"query":    prompt,
	})
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, "/video/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var resp struct {
		Response string `json:"response"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch {
	case resp.Response != "":
		return resp.Response, nil
	case resp.Answer != "":
		return resp.Answer, nil
	default:
		return "Location details not available", nil
	}
}

// do POSTs body to path through the circuit breaker and returns the
// response body of a 2xx answer.
func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)
		c.log.Debug("Calling video service", "path", path, "headers", security.MaskSensitiveHeaders(req.Header))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: security.SanitizeForLog(string(respBody))}
		}
		return respBody, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}
