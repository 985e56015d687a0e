package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/middleware"
	"github.com/objectfinder/object-finder/internal/search"
	"github.com/objectfinder/object-finder/internal/video"
)

type testEnv struct {
	srv   *Server
	store objects.Store
	inst  *metrics.Instrumentor
	video *video.Client
	bus   bus.Bus
}

func newTestEnv(t *testing.T, cfg Config, mutate ...func(*Deps)) *testEnv {
	t.Helper()

	store := objects.NewMemoryStore()
	inst := metrics.NewInstrumentor()
	vc := video.New(video.Config{}, video.WithInstrumentor(inst))
	b := bus.NewMemoryBus(nil)
	t.Cleanup(func() { b.Close() })

	deps := Deps{
		Store:        store,
		Video:        vc,
		Orchestrator: search.NewOrchestrator(store, vc, search.WithBus(b)),
		Metrics:      inst,
		Bus:          b,
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(cfg, deps, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	return &testEnv{srv: srv, store: deps.Store, inst: inst, video: vc, bus: b}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.Upload.MaxBytes != 50*1024*1024 {
		t.Errorf("Upload.MaxBytes = %d", cfg.Upload.MaxBytes)
	}
	if cfg.WriteTimeout <= 10*time.Minute {
		t.Errorf("WriteTimeout = %v, must outlive a search and a describe call", cfg.WriteTimeout)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	store := objects.NewMemoryStore()
	vc := video.New(video.Config{})

	tests := []struct {
		name string
		deps Deps
	}{
		{"no store", Deps{Video: vc, Orchestrator: search.NewOrchestrator(store, vc), Metrics: metrics.NewInstrumentor()}},
		{"no video", Deps{Store: store, Orchestrator: search.NewOrchestrator(store, vc), Metrics: metrics.NewInstrumentor()}},
		{"no orchestrator", Deps{Store: store, Video: vc, Metrics: metrics.NewInstrumentor()}},
		{"no metrics", Deps{Store: store, Video: vc, Orchestrator: search.NewOrchestrator(store, vc)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(DefaultConfig(), tt.deps, nil); !errors.IsValidation(err) {
				t.Errorf("New() error = %v, want validation error", err)
			}
		})
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "active" || body["version"] != "dev" {
		t.Errorf("unexpected banner %v", body)
	}

	if rec := env.do(t, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	h := decode[HealthStatus](t, rec)
	if h.Status != StatusHealthy || h.Database != "connected" || h.Service != ServiceName {
		t.Errorf("unexpected health %+v", h)
	}
	if h.Components["video_service"].Message != "mock (API key not configured)" {
		t.Errorf("video component = %+v", h.Components["video_service"])
	}
}

type downStore struct {
	objects.Store
}

func (downStore) Ping(ctx context.Context) error {
	return stderrors.New("connection refused")
}

func TestHealth_StoreDown(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), func(d *Deps) {
		d.Store = downStore{Store: d.Store}
	})

	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	h := decode[HealthStatus](t, rec)
	if h.Status != StatusDegraded || h.Database != "error: connection refused" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestObjects_CRUD(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	created := make(chan bus.Event, 1)
	env.bus.Subscribe(context.Background(), bus.TopicObjectCreated, func(ctx context.Context, ev bus.Event) error {
		created <- ev
		return nil
	})

	rec := env.do(t, http.MethodPost, "/api/objects", `{"name":"  Keys ","alias":"car keys, house keys"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	obj := decode[objects.TrackedObject](t, rec)
	if obj.Name != "keys" || obj.HasBeenSeen() {
		t.Errorf("unexpected object %+v", obj)
	}

	select {
	case ev := <-created:
		if p, ok := ev.Payload.(bus.ObjectChanged); !ok || p.ObjectID != obj.ID {
			t.Errorf("unexpected payload %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no object.created event")
	}

	rec = env.do(t, http.MethodPost, "/api/objects/", `{"name":"keys","alias":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/objects/%d", obj.ID), "")
	if rec.Code != http.StatusOK || decode[objects.TrackedObject](t, rec).Name != "keys" {
		t.Errorf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/objects/%d", obj.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	msg := decode[messageResponse](t, rec)
	if !msg.Success || msg.Message != fmt.Sprintf("Object %d deleted successfully", obj.ID) {
		t.Errorf("unexpected delete response %+v", msg)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec = env.do(t, method, fmt.Sprintf("/api/objects/%d", obj.ID), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s after delete status = %d, want 404", method, rec.Code)
		}
	}
}

func TestObjects_CreateValidation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed", `{"name":`, errors.CodeInvalidRequest},
		{"empty name", `{"name":"  ","alias":"x"}`, errors.CodeValidation},
		{"empty alias", `{"name":"keys","alias":""}`, errors.CodeValidation},
		{"long name", `{"name":"` + strings.Repeat("n", objects.MaxNameLength+1) + `","alias":"x"}`, errors.CodeValidation},
		{"long alias", `{"name":"keys","alias":"` + strings.Repeat("a", objects.MaxAliasLength+1) + `"}`, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/objects", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decode[errors.ErrorResponse](t, rec); resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestObjects_List(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ctx := context.Background()
	for _, o := range []objects.NewObject{
		{Name: "keys", Alias: "car keys"},
		{Name: "wallet", Alias: "leather wallet"},
		{Name: "car", Alias: "the red car"},
	} {
		if _, err := env.store.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/objects", "")
	if all := decode[[]objects.TrackedObject](t, rec); len(all) != 3 || all[0].Name != "car" {
		t.Errorf("unexpected list %+v", all)
	}

	rec = env.do(t, http.MethodGet, "/api/objects?search=CAR", "")
	if found := decode[[]objects.TrackedObject](t, rec); len(found) != 2 {
		t.Errorf("search returned %d objects, want 2", len(found))
	}

	rec = env.do(t, http.MethodGet, "/api/objects/?limit=1", "")
	if limited := decode[[]objects.TrackedObject](t, rec); len(limited) != 1 {
		t.Errorf("limit returned %d objects, want 1", len(limited))
	}

	rec = env.do(t, http.MethodGet, "/api/objects?search=zzz", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty search body = %s", rec.Body.String())
	}

	for _, q := range []string{"0", "101", "x"} {
		if rec := env.do(t, http.MethodGet, "/api/objects?limit="+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", q, rec.Code)
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/objects/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want 400", rec.Code)
	}
}

func TestObjects_CommonSuggestions(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodGet, "/api/objects/suggestions/common", "")
	body := decode[struct {
		Common []objects.CommonObject `json:"common_objects"`
		Tips   []string               `json:"tips"`
	}](t, rec)

	if len(body.Common) != len(objects.CommonObjects) || len(body.Tips) != len(objects.AliasTips) {
		t.Errorf("unexpected suggestions %+v", body)
	}
}

func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, field, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, contentType, content)
	r := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	r.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, r)
	return rec
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	uploaded := make(chan bus.Event, 1)
	env.bus.Subscribe(context.Background(), bus.TopicVideoUploaded, func(ctx context.Context, ev bus.Event) error {
		uploaded <- ev
		return nil
	})

	rec := env.upload(t, "file", "kitchen.mp4", "video/mp4", []byte("fake video bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decode[UploadResponse](t, rec)
	if !resp.Success || !video.IsMockRecording(resp.RecordingID) || resp.FileName != "kitchen.mp4" || resp.FileSize != 16 {
		t.Errorf("unexpected response %+v", resp)
	}

	select {
	case ev := <-uploaded:
		if p, ok := ev.Payload.(bus.VideoUploaded); !ok || p.RecordingID != resp.RecordingID {
			t.Errorf("unexpected payload %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no video.uploaded event")
	}

	if m, ok := env.inst.Get(metrics.OpVideoUpload); !ok || m.Calls != 1 {
		t.Errorf("video_upload metric = %+v", m)
	}
}

func TestUpload_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upload.MaxBytes = 1024
	env := newTestEnv(t, cfg)

	tests := []struct {
		name        string
		field       string
		filename    string
		contentType string
		size        int
		wantStatus  int
		wantMessage string
	}{
		{"extension fallback", "file", "hall.MOV", "application/octet-stream", 10, http.StatusOK, ""},
		{"wrong type", "file", "notes.txt", "text/plain", 10, http.StatusBadRequest, "Invalid file type"},
		{"too large", "file", "big.mp4", "video/mp4", 2048, http.StatusBadRequest, "File too large"},
		{"missing file field", "video", "a.mp4", "video/mp4", 10, http.StatusBadRequest, "file is required"},
		{"way too large", "file", "huge.mp4", "video/mp4", 2 << 20, http.StatusRequestEntityTooLarge, "File too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.upload(t, tt.field, tt.filename, tt.contentType, bytes.Repeat([]byte("v"), tt.size))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantMessage != "" && !strings.Contains(rec.Body.String(), tt.wantMessage) {
				t.Errorf("body = %s, want message containing %q", rec.Body.String(), tt.wantMessage)
			}
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", rec.Code)
	}
}

func TestUploadStatus(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rec := env.do(t, http.MethodGet, "/api/upload/status/mock_1700000000_a.mp4", "")
	if s := decode[map[string]string](t, rec); s["status"] != video.StatusCompleted || s["processed_at"] == "" {
		t.Errorf("mock status = %v", s)
	}

	rec = env.do(t, http.MethodGet, "/api/upload/status/VI123", "")
	if s := decode[map[string]string](t, rec); s["status"] != video.StatusProcessing || s["estimated_completion"] == "" {
		t.Errorf("live status = %v", s)
	}

	rec = env.do(t, http.MethodGet, "/api/upload/health", "")
	h := decode[map[string]any](t, rec)
	if h["max_file_size_mb"] != float64(50) || h["mode"] != string(video.ModeMock) {
		t.Errorf("upload health = %v", h)
	}
}

func TestSearchRoutes(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.store.Create(context.Background(), objects.NewObject{Name: "keys", Alias: "car keys"})

	rec := env.do(t, http.MethodPost, "/api/search", `{"query":"Where are my keys?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if res := decode[search.Result](t, rec); !res.Found {
		t.Errorf("unexpected result %+v", res)
	}

	rec = env.do(t, http.MethodGet, "/api/search/history", "")
	if h := decode[search.History](t, rec); h.TotalFound != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestAdminMetrics(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.store.Create(context.Background(), objects.NewObject{Name: "wallet", Alias: "brown wallet"})
	env.do(t, http.MethodPost, "/api/search", `{"query":"wallet"}`)

	rec := env.do(t, http.MethodGet, "/api/admin/metrics", "")
	m := decode[MetricsResponse](t, rec)

	if m.Performance[metrics.OpVideoSearch].Calls != 1 {
		t.Errorf("video_search calls = %d", m.Performance[metrics.OpVideoSearch].Calls)
	}
	if m.Cache.Size != 1 || m.Cache.MaxSize != 50 || m.Cache.TTLSeconds != 600 {
		t.Errorf("cache stats = %+v", m.Cache)
	}
	if m.System.VideoMode != string(video.ModeMock) || m.System.Timestamp == 0 {
		t.Errorf("system info = %+v", m.System)
	}

	rec = env.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `operation="video_search"`) {
		t.Errorf("prometheus output missing video_search:\n%s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/admin/cache/clear", "")
	if decode[messageResponse](t, rec).Message != "Cache cleared successfully" {
		t.Error("unexpected clear response")
	}
	if env.video.CacheStats().Size != 0 {
		t.Error("cache not cleared")
	}

	rec = env.do(t, http.MethodPost, "/api/admin/metrics/reset", "")
	if decode[messageResponse](t, rec).Message != "Metrics reset successfully" {
		t.Error("unexpected reset response")
	}
	if len(env.inst.Snapshot()) != 0 {
		t.Error("metrics not reset")
	}
}

type fakeHistory struct {
	since time.Time
}

func (f *fakeHistory) LoadHistory(ctx context.Context, metric string, since time.Time) ([]metrics.DataPoint, error) {
	f.since = since
	return []metrics.DataPoint{{Timestamp: since.Add(time.Minute), Value: 0.25}}, nil
}

func (f *fakeHistory) MetricNames(ctx context.Context) ([]string, error) {
	return []string{metrics.OpVideoChat, metrics.OpVideoSearch}, nil
}

func TestAdminHistory(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	if rec := env.do(t, http.MethodGet, "/api/admin/metrics/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without history status = %d, want 503", rec.Code)
	}

	fh := &fakeHistory{}
	env = newTestEnv(t, DefaultConfig(), func(d *Deps) { d.History = fh })

	rec := env.do(t, http.MethodGet, "/api/admin/metrics/history", "")
	if names := decode[map[string][]string](t, rec)["metrics"]; len(names) != 2 {
		t.Errorf("names = %v", names)
	}

	before := time.Now()
	rec = env.do(t, http.MethodGet, "/api/admin/metrics/history?metric=video_search&since=30m", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if d := before.Sub(fh.since); d < 29*time.Minute || d > 31*time.Minute {
		t.Errorf("since window = %v, want ~30m", d)
	}

	if rec := env.do(t, http.MethodGet, "/api/admin/metrics/history?metric=x&since=soon", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}

func TestAdminEvents(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	if rec := env.do(t, http.MethodGet, "/api/admin/events", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without event log status = %d, want 503", rec.Code)
	}

	el, err := bus.NewEventLogger(filepath.Join(t.TempDir(), "events.jsonl"), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer el.Close()

	created := bus.NewEvent(bus.TopicObjectCreated, "objects", bus.ObjectChanged{ObjectID: 1, Name: "keys"})
	created.CorrelationID = "req-create"
	located := bus.NewEvent(bus.TopicObjectLocated, "search", bus.ObjectLocated{ObjectID: 1, Name: "keys", Location: "desk", RecordingID: "v1"})
	located.CorrelationID = "req-search"
	other := bus.NewEvent(bus.TopicObjectCreated, "objects", bus.ObjectChanged{ObjectID: 2, Name: "wallet"})
	for _, ev := range []bus.Event{created, located, other} {
		if err := el.Log(ev.Type, ev); err != nil {
			t.Fatal(err)
		}
	}

	env = newTestEnv(t, DefaultConfig(), func(d *Deps) { d.EventLog = el })

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "all", query: "?limit=10", wantIDs: []string{created.ID, located.ID, other.ID}},
		{name: "newest within limit", query: "?limit=1", wantIDs: []string{other.ID}},
		{name: "by topic", query: "?topic=object.located", wantIDs: []string{located.ID}},
		{name: "by object", query: "?object_id=1", wantIDs: []string{created.ID, located.ID}},
		{name: "by recording", query: "?video_no=v1", wantIDs: []string{located.ID}},
		{name: "by correlation id", query: "?correlation_id=req-create", wantIDs: []string{created.ID}},
		{name: "no match", query: "?object_id=99", wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/admin/events"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			body := decode[map[string][]bus.LoggedEvent](t, rec)
			var got []string
			for _, e := range body["events"] {
				got = append(got, e.ID)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("events = %v, want %v", got, tt.wantIDs)
			}
			for i := range got {
				if got[i] != tt.wantIDs[i] {
					t.Errorf("events[%d] = %s, want %s", i, got[i], tt.wantIDs[i])
				}
			}
		})
	}

	for _, q := range []string{"?limit=0", "?topic=object.moved", "?object_id=-1", "?object_id=abc", "?since=soon"} {
		if rec := env.do(t, http.MethodGet, "/api/admin/events"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, rec.Code)
		}
	}
}

func TestMiddlewareChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	env := newTestEnv(t, cfg)

	r := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("preflight status = %d, headers = %v", rec.Code, rec.Header())
	}

	r = httptest.NewRequest(http.MethodGet, "/api/search/suggestions", nil)
	r.Header.Set(middleware.RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, r)
	if rec.Header().Get(middleware.RequestIDHeader) != "req-42" {
		t.Errorf("request id = %q", rec.Header().Get(middleware.RequestIDHeader))
	}

	// The preflight is answered before the limiter, so one request is left.
	env.do(t, http.MethodGet, "/api/search/suggestions", "")
	rec = env.do(t, http.MethodGet, "/api/search/suggestions", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 while limited", rec.Code)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev := bus.NewEvent(bus.TopicObjectLocated, "search", bus.ObjectLocated{ObjectID: 7, Name: "keys", Location: "desk"})
	if err := env.bus.Publish(ctx, bus.TopicObjectLocated, ev); err != nil {
		t.Fatal(err)
	}

	var got bus.Event
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.ID != ev.ID || got.Type != bus.TopicObjectLocated {
		t.Errorf("received %+v", got)
	}

	env.srv.Hub().Close()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", websocket.CloseStatus(err))
	}
}

func TestStopBeforeStart(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	if err := env.srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if env.srv.Running() {
		t.Error("server reports running")
	}
}
