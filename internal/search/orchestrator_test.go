package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/cache"
	"github.com/objectfinder/object-finder/internal/metrics"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/video"
)

// fakeVideo records calls and returns canned answers.
type fakeVideo struct {
	mu         sync.Mutex
	candidates []video.Candidate
	location   string
	queries    []string
	described  []string
}

func (f *fakeVideo) SearchVideos(ctx context.Context, query string, limit int) []video.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.candidates
}

func (f *fakeVideo) DescribeLocation(ctx context.Context, recordingID, prompt string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.described = append(f.described, recordingID)
	return f.location
}

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	objects.Store
	findErr   error
	listErr   error
	updateErr error
	panicFind bool
}

func (s *faultyStore) FindMatching(ctx context.Context, q string) ([]objects.TrackedObject, error) {
	if s.panicFind {
		panic("index corrupted")
	}
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.Store.FindMatching(ctx, q)
}

func (s *faultyStore) List(ctx context.Context) ([]objects.TrackedObject, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.List(ctx)
}

func (s *faultyStore) UpdateLastSeen(ctx context.Context, id int64, ls objects.LastSeen) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Store.UpdateLastSeen(ctx, id, ls)
}

func ptr[T any](v T) *T { return &v }

func mustCreate(t *testing.T, s objects.Store, name, alias string) *objects.TrackedObject {
	t.Helper()
	obj, err := s.Create(context.Background(), objects.NewObject{Name: name, Alias: alias})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	return obj
}

var fixedNow = time.Date(2025, 10, 13, 12, 0, 0, 0, time.UTC)

func TestSearch_EmptyQuery(t *testing.T) {
	orch := NewOrchestrator(objects.NewMemoryStore(), &fakeVideo{})

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := orch.Search(context.Background(), q)
		if !errors.IsValidation(err) {
			t.Errorf("Search(%q) error = %v, want validation error", q, err)
		}
	}
}

func TestSearch_FindsKeysEndToEnd(t *testing.T) {
	store := objects.NewMemoryStore()
	keys := mustCreate(t, store, "keys", "car keys, house keys")

	inst := metrics.NewInstrumentor()
	vc := video.New(video.Config{},
		video.WithInstrumentor(inst),
		video.WithClock(func() time.Time { return fixedNow }),
	)

	b := bus.NewMemoryBus(nil)
	defer b.Close()
	located := make(chan bus.Event, 1)
	b.Subscribe(context.Background(), bus.TopicObjectLocated, func(ctx context.Context, ev bus.Event) error {
		located <- ev
		return nil
	})

	orch := NewOrchestrator(store, vc, WithBus(b))

	res, err := orch.Search(context.Background(), "Where are my keys?")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if !res.Found {
		t.Fatalf("expected found, got %+v", res)
	}
	if res.Location == "" || !slices.Contains(video.MockLocations, res.Location) {
		t.Errorf("unexpected location %q", res.Location)
	}
	if res.Confidence == nil || *res.Confidence < 0 || *res.Confidence > 1 {
		t.Errorf("confidence out of range: %v", res.Confidence)
	}
	if !strings.HasPrefix(res.RecordingID, video.MockPrefix) {
		t.Errorf("unexpected recording id %q", res.RecordingID)
	}
	if res.Object == nil || res.Object.Name != "keys" || !res.Object.HasBeenSeen() {
		t.Errorf("unexpected object snapshot %+v", res.Object)
	}

	stored, err := store.Get(context.Background(), keys.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.HasBeenSeen() || *stored.LocationPhrase != res.Location {
		t.Errorf("last seen not persisted: %+v", stored)
	}
	if *stored.LastSeenTimestamp != *res.Timestamp {
		t.Errorf("persisted timestamp %d, want %d", *stored.LastSeenTimestamp, *res.Timestamp)
	}

	for _, op := range []string{metrics.OpVideoSearch, metrics.OpVideoChat} {
		if m, ok := inst.Get(op); !ok || m.Calls != 1 {
			t.Errorf("%s metric = %+v, want 1 call", op, m)
		}
	}

	select {
	case ev := <-located:
		payload, ok := ev.Payload.(bus.ObjectLocated)
		if !ok || payload.ObjectID != keys.ID || payload.Location != res.Location {
			t.Errorf("unexpected event payload %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no object.located event published")
	}
}

func TestSearch_SecondSearchHitsCache(t *testing.T) {
	store := objects.NewMemoryStore()
	mustCreate(t, store, "wallet", "brown leather wallet")

	inst := metrics.NewInstrumentor()
	vc := video.New(video.Config{}, video.WithInstrumentor(inst))
	orch := NewOrchestrator(store, vc)

	for i := 0; i < 2; i++ {
		if _, err := orch.Search(context.Background(), "where is my wallet"); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
	}

	m, _ := inst.Get(metrics.OpVideoSearch)
	if m.Calls != 1 {
		t.Errorf("video_search calls = %d, want 1", m.Calls)
	}
	if m, _ := inst.Get(metrics.OpVideoChat); m.Calls != 2 {
		t.Errorf("video_chat calls = %d, want 2", m.Calls)
	}
}

func TestSearch_NotTracked(t *testing.T) {
	store := objects.NewMemoryStore()
	mustCreate(t, store, "keys", "car keys, house keys")
	fv := &fakeVideo{}

	res, err := NewOrchestrator(store, fv).Search(context.Background(), "Where is my xyzzy?")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if res.Found {
		t.Fatal("expected not found")
	}
	want := "'xyzzy' is not being tracked. Please teach this object first in the 'Teach Objects' section."
	if res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if len(fv.queries) != 0 {
		t.Error("video service called for an untracked object")
	}
}

func TestSearch_NoVideosIsNotCached(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	store := objects.NewMemoryStore()
	mustCreate(t, store, "keys", "car keys, house keys")

	c := cache.New[string, []video.Candidate](50, 10*time.Minute)
	vc := video.New(video.Config{APIKey: "test", BaseURL: srv.URL}, video.WithCache(c))
	orch := NewOrchestrator(store, vc)

	for i := 0; i < 2; i++ {
		res, err := orch.Search(context.Background(), "Where are my keys?")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if res.Found {
			t.Fatal("expected not found")
		}
		want := "No videos found containing 'keys'. Try uploading more videos of your spaces."
		if res.Message != want {
			t.Errorf("Message = %q, want %q", res.Message, want)
		}
	}

	if c.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0", c.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestSearch_PrefersExactNameMatch(t *testing.T) {
	store := objects.NewMemoryStore()
	mustCreate(t, store, "keys", "house keys")
	mustCreate(t, store, "car", "car with the keys inside")

	fv := &fakeVideo{
		candidates: []video.Candidate{{RecordingID: "VI1", Timestamp: ptr(int64(1)), Confidence: ptr(0.5)}},
		location:   "on the hook",
	}

	res, err := NewOrchestrator(store, fv).Search(context.Background(), "keys")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Object.Name != "keys" {
		t.Errorf("matched %q, want keys", res.Object.Name)
	}
	if fv.queries[0] != "keys house keys" {
		t.Errorf("enhanced query = %q", fv.queries[0])
	}
}

func TestSearch_FallsBackToStoreOrder(t *testing.T) {
	store := objects.NewMemoryStore()
	mustCreate(t, store, "glasses", "reading glasses")
	mustCreate(t, store, "sunglasses", "dark glasses")

	fv := &fakeVideo{candidates: []video.Candidate{{RecordingID: "VI1"}}, location: "desk"}

	// "glass" names neither object exactly, so the newest match wins.
	res, err := NewOrchestrator(store, fv).Search(context.Background(), "where are my glass")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Object.Name != "sunglasses" {
		t.Errorf("matched %q, want sunglasses", res.Object.Name)
	}
}

func TestSearch_Confidence(t *testing.T) {
	tests := []struct {
		name  string
		score *float64
		want  float64
	}{
		{"missing", nil, DefaultConfidence},
		{"in range", ptr(0.42), 0.42},
		{"above one", ptr(1.7), 1},
		{"negative", ptr(-0.2), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := objects.NewMemoryStore()
			mustCreate(t, store, "remote", "tv remote")
			fv := &fakeVideo{
				candidates: []video.Candidate{{RecordingID: "VI9", Timestamp: ptr(int64(5)), Confidence: tt.score}},
				location:   "under the cushion",
			}

			res, err := NewOrchestrator(store, fv).Search(context.Background(), "remote")
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if *res.Confidence != tt.want {
				t.Errorf("Confidence = %v, want %v", *res.Confidence, tt.want)
			}
			if *res.Object.Confidence != tt.want {
				t.Errorf("object Confidence = %v, want %v", *res.Object.Confidence, tt.want)
			}
		})
	}
}

func TestSearch_SkipsPersistWithoutTimestampOrRecording(t *testing.T) {
	store := objects.NewMemoryStore()
	obj := mustCreate(t, store, "phone", "iPhone")

	fv := &fakeVideo{
		candidates: []video.Candidate{{Confidence: ptr(0.7)}},
		location:   "on the couch",
	}

	res, err := NewOrchestrator(store, fv).Search(context.Background(), "phone")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !res.Found || res.Location != "on the couch" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Timestamp != nil || res.RecordingID != "" {
		t.Errorf("expected no timestamp or recording, got %v %q", res.Timestamp, res.RecordingID)
	}
	if fv.described[0] != UnknownRecording {
		t.Errorf("described %q, want %q", fv.described[0], UnknownRecording)
	}

	stored, _ := store.Get(context.Background(), obj.ID)
	if stored.HasBeenSeen() {
		t.Error("last seen persisted without timestamp")
	}
	if res.Object.HasBeenSeen() {
		t.Error("snapshot updated without timestamp")
	}
}

func TestSearch_StoreFailures(t *testing.T) {
	base := objects.NewMemoryStore()
	mustCreate(t, base, "charger", "usb cable")

	fv := &fakeVideo{
		candidates: []video.Candidate{{RecordingID: "VI1", Timestamp: ptr(int64(10))}},
		location:   "by the bed",
	}

	t.Run("lookup failure reads as untracked", func(t *testing.T) {
		s := &faultyStore{Store: base, findErr: stderrors.New("connection refused")}
		res, err := NewOrchestrator(s, fv).Search(context.Background(), "charger")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if res.Found || !strings.Contains(res.Message, "is not being tracked") {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("update failure is swallowed", func(t *testing.T) {
		s := &faultyStore{Store: base, updateErr: stderrors.New("read only")}
		res, err := NewOrchestrator(s, fv).Search(context.Background(), "charger")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if !res.Found {
			t.Errorf("expected found despite update failure, got %+v", res)
		}
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		s := &faultyStore{Store: base, panicFind: true}
		_, err := NewOrchestrator(s, fv).Search(context.Background(), "charger")
		appErr, ok := errors.As(err)
		if !ok || appErr.Code != errors.CodeInternal {
			t.Fatalf("error = %v, want internal AppError", err)
		}
		if !strings.HasPrefix(appErr.ErrorID(), "err_") {
			t.Errorf("ErrorID = %q", appErr.ErrorID())
		}
		if strings.Contains(appErr.Message, "index corrupted") {
			t.Error("panic detail leaked into message")
		}
	})
}

func TestSearch_SearchLimit(t *testing.T) {
	store := objects.NewMemoryStore()
	mustCreate(t, store, "watch", "smartwatch")

	var gotLimit int
	vs := videoFunc(func(limit int) { gotLimit = limit })

	NewOrchestrator(store, vs).Search(context.Background(), "watch")
	if gotLimit != DefaultSearchLimit {
		t.Errorf("limit = %d, want %d", gotLimit, DefaultSearchLimit)
	}

	NewOrchestrator(store, vs, WithSearchLimit(7)).Search(context.Background(), "watch")
	if gotLimit != 7 {
		t.Errorf("limit = %d, want 7", gotLimit)
	}
}

type videoFunc func(limit int)

func (f videoFunc) SearchVideos(ctx context.Context, query string, limit int) []video.Candidate {
	f(limit)
	return nil
}

func (f videoFunc) DescribeLocation(ctx context.Context, recordingID, prompt string) string {
	return ""
}

func TestHistory(t *testing.T) {
	store := objects.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		obj := mustCreate(t, store, fmt.Sprintf("thing%02d", i), "something")
		if i == 0 {
			continue // never seen
		}
		err := store.UpdateLastSeen(ctx, obj.ID, objects.LastSeen{
			Timestamp:   int64(1000 + i),
			Location:    "somewhere",
			RecordingID: "VI",
			Confidence:  0.9,
		})
		if err != nil {
			t.Fatalf("UpdateLastSeen() error = %v", err)
		}
	}

	h := NewOrchestrator(store, &fakeVideo{}).History(ctx)

	if h.TotalTracked != 12 || h.TotalFound != 11 {
		t.Errorf("totals = %d/%d, want 11/12", h.TotalFound, h.TotalTracked)
	}
	if len(h.FoundObjects) != MaxHistory {
		t.Fatalf("returned %d objects, want %d", len(h.FoundObjects), MaxHistory)
	}
	if h.FoundObjects[0].Name != "thing11" || h.FoundObjects[9].Name != "thing02" {
		t.Errorf("unexpected order: first %s, last %s", h.FoundObjects[0].Name, h.FoundObjects[9].Name)
	}
}

func TestHistory_StoreFailure(t *testing.T) {
	s := &faultyStore{Store: objects.NewMemoryStore(), listErr: stderrors.New("down")}
	h := NewOrchestrator(s, &fakeVideo{}).History(context.Background())

	if h.FoundObjects == nil || len(h.FoundObjects) != 0 || h.TotalTracked != 0 {
		t.Errorf("unexpected history %+v", h)
	}
}

func TestSuggestions(t *testing.T) {
	ctx := context.Background()
	store := objects.NewMemoryStore()
	orch := NewOrchestrator(store, &fakeVideo{})

	s := orch.Suggestions(ctx)
	if s.TrackedObjectsCount != 0 || s.Suggestions[0] != "Where are my keys?" {
		t.Errorf("unexpected generic suggestions %+v", s)
	}

	for _, name := range []string{"keys", "wallet", "phone"} {
		mustCreate(t, store, name, name+" alias")
	}

	s = orch.Suggestions(ctx)
	if s.TrackedObjectsCount != 3 {
		t.Errorf("TrackedObjectsCount = %d, want 3", s.TrackedObjectsCount)
	}
	if len(s.Suggestions) != MaxSuggestions {
		t.Fatalf("got %d suggestions, want %d", len(s.Suggestions), MaxSuggestions)
	}
	if s.Suggestions[0] != "Where are my phone?" {
		t.Errorf("first suggestion = %q", s.Suggestions[0])
	}

	failing := NewOrchestrator(&faultyStore{Store: store, listErr: stderrors.New("down")}, &fakeVideo{})
	s = failing.Suggestions(ctx)
	if s.Suggestions == nil || len(s.Suggestions) != 0 || s.TrackedObjectsCount != 0 {
		t.Errorf("unexpected suggestions on failure %+v", s)
	}
}
