// Package client provides an HTTP client for the object-finder API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/search"
)

// DefaultBaseURL is where a locally started server listens.
const DefaultBaseURL = "http://localhost:8000"

// Client is an HTTP client for the object-finder API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout. Searches and uploads wait on the
	// video service, so this should be generous.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         11 * time.Minute,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = defaults.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		MaxIdleConns:      cfg.MaxIdleConns,
		IdleConnTimeout:   cfg.IdleConnTimeout,
		ForceAttemptHTTP2: true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database"`
	Uptime   string `json:"uptime,omitempty"`
}

// UploadResponse is the server's answer to an upload.
type UploadResponse struct {
	Success     bool   `json:"success"`
	RecordingID string `json:"video_no"`
	Message     string `json:"message"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

// UploadStatus is the processing state of an uploaded recording.
type UploadStatus struct {
	RecordingID string `json:"video_no"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// CommonObjects are the suggested objects to teach.
type CommonObjects struct {
	Objects []objects.CommonObject `json:"common_objects"`
	Tips    []string               `json:"tips"`
}

// MetricsResponse is the admin metrics snapshot.
type MetricsResponse struct {
	Performance map[string]metrics.Metric `json:"performance_metrics"`
	Cache       struct {
		Size       int     `json:"search_cache_size"`
		MaxSize    int     `json:"search_cache_max_size"`
		TTLSeconds float64 `json:"search_cache_ttl"`
		Hits       uint64  `json:"hits"`
		Misses     uint64  `json:"misses"`
	} `json:"cache_stats"`
	System struct {
		UptimeSeconds float64 `json:"uptime_seconds"`
		VideoMode     string  `json:"video_mode"`
		BreakerState  string  `json:"breaker_state"`
	} `json:"system_info"`
}

// ListOptions filters ListObjects.
type ListOptions struct {
	Limit  int
	Search string
}

// APIError represents an API error response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	ErrorID    string `json:"error_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.ErrorID != "" {
		return fmt.Sprintf("%s: %s (error id %s)", e.Code, e.Message, e.ErrorID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search asks where an object is.
func (c *Client) Search(ctx context.Context, query string) (*search.Result, error) {
	var res search.Result
	if err := c.post(ctx, "/api/search", search.Request{Query: query}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns recently found objects.
func (c *Client) History(ctx context.Context) (*search.History, error) {
	var h search.History
	if err := c.get(ctx, "/api/search/history", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Suggestions returns example queries.
func (c *Client) Suggestions(ctx context.Context) (*search.Suggestions, error) {
	var s search.Suggestions
	if err := c.get(ctx, "/api/search/suggestions", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateObject teaches the server a new object.
func (c *Client) CreateObject(ctx context.Context, name, alias string) (*objects.TrackedObject, error) {
	var obj objects.TrackedObject
	if err := c.post(ctx, "/api/objects", objects.NewObject{Name: name, Alias: alias}, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// ListObjects returns tracked objects, newest first.
func (c *Client) ListObjects(ctx context.Context, opts ListOptions) ([]objects.TrackedObject, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	path := "/api/objects"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list []objects.TrackedObject
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetObject returns one tracked object.
func (c *Client) GetObject(ctx context.Context, id int64) (*objects.TrackedObject, error) {
	var obj objects.TrackedObject
	if err := c.get(ctx, fmt.Sprintf("/api/objects/%d", id), &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// DeleteObject deletes a tracked object.
func (c *Client) DeleteObject(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/api/objects/%d", id))
}

// CommonObjects returns the suggested objects to teach.
func (c *Client) CommonObjects(ctx context.Context) (*CommonObjects, error) {
	var co CommonObjects
	if err := c.get(ctx, "/api/objects/suggestions/common", &co); err != nil {
		return nil, err
	}
	return &co, nil
}

// Upload sends a recording read from r.
func (c *Client) Upload(ctx context.Context, r io.Reader, filename, contentType string) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadStatus returns the processing state of a recording.
func (c *Client) UploadStatus(ctx context.Context, recordingID string) (*UploadStatus, error) {
	var s UploadStatus
	if err := c.get(ctx, "/api/upload/status/"+url.PathEscape(recordingID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Metrics returns the admin metrics snapshot.
func (c *Client) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var m MetricsResponse
	if err := c.get(ctx, "/api/admin/metrics", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ClearCache drops the server's search cache.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.post(ctx, "/api/admin/cache/clear", nil, nil)
}

// ResetMetrics zeroes the server's call metrics.
func (c *Client) ResetMetrics(ctx context.Context) error {
	return c.post(ctx, "/api/admin/metrics/reset", nil, nil)
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// delete performs a DELETE request.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, nil)
}

// do executes a request.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
