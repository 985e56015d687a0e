// Package search resolves "where is X" questions against tracked objects and
// uploaded recordings.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/objectfinder/object-finder/internal/bus"
	"github.com/objectfinder/object-finder/internal/objects"
	"github.com/objectfinder/object-finder/internal/pkg/errors"
	"github.com/objectfinder/object-finder/internal/pkg/logger"
	"github.com/objectfinder/object-finder/internal/query"
	"github.com/objectfinder/object-finder/internal/video"
)

const (
	// DefaultSearchLimit is how many recordings are asked for per search.
	DefaultSearchLimit = 3

	// DefaultConfidence is used when the winning candidate carries no score.
	DefaultConfidence = 0.8

	// MaxHistory caps the recently found objects returned by History.
	MaxHistory = 10

	// MaxSuggestions caps the example queries returned by Suggestions.
	MaxSuggestions = 8

	// UnknownRecording is sent to the describe call when a candidate has no id.
	UnknownRecording = "unknown"

	// EventSource identifies events published by the orchestrator.
	EventSource = "search"
)

// VideoService is the part of the video client the orchestrator needs.
// Neither call returns an error; failures are absorbed by the client.
type VideoService interface {
	SearchVideos(ctx context.Context, query string, limit int) []video.Candidate
	DescribeLocation(ctx context.Context, recordingID, prompt string) string
}

// Result is the outcome of one search.
type Result struct {
	Found       bool                   `json:"found"`
	Location    string                 `json:"location,omitempty"`
	Timestamp   *int64                 `json:"timestamp,omitempty"`
	RecordingID string                 `json:"video_no,omitempty"`
	Confidence  *float64               `json:"confidence,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Object      *objects.TrackedObject `json:"object_info,omitempty"`
}

// History lists recently found objects.
type History struct {
	FoundObjects []objects.TrackedObject `json:"found_objects"`
	TotalFound   int                     `json:"total_found"`
	TotalTracked int                     `json:"total_tracked"`
}

// Suggestions are example queries for the search box.
type Suggestions struct {
	Suggestions         []string `json:"suggestions"`
	TrackedObjectsCount int      `json:"tracked_objects_count"`
}

// Orchestrator runs the search pipeline. It holds no state of its own
// beyond its collaborators and is safe for concurrent use.
type Orchestrator struct {
	store objects.Store
	video VideoService
	bus   bus.Bus
	log   *logger.Logger
	limit int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus publishes object.located events to b.
func WithBus(b bus.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithSearchLimit overrides DefaultSearchLimit.
func WithSearchLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.limit = n
		}
	}
}

// NewOrchestrator creates an orchestrator over store and vs.
func NewOrchestrator(store objects.Store, vs VideoService, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		video: vs,
		log:   logger.Discard(),
		limit: DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithComponent("search")
	return o
}

// Search answers a natural-language question such as "Where are my keys?".
//
// Only an empty query (VALIDATION_ERROR) and unexpected failures
// (INTERNAL_ERROR with an error id) are returned as errors. An untracked
// object or a lack of video evidence is a Result with Found false.
func (o *Orchestrator) Search(ctx context.Context, q string) (res *Result, err error) {
	log := o.log.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			appErr := errors.Unexpected(fmt.Errorf("search panic: %v", r))
			log.Error("Search failed", "query", q, "error_id", appErr.ErrorID(), "panic", r)
			res, err = nil, appErr
		}
	}()

	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.ValidationError("Search query cannot be empty")
	}

	token := query.ExtractObjectToken(q)
	log.Debug("Searching", "query", q, "token", token)

	matches, err := o.store.FindMatching(ctx, token)
	if err != nil {
		log.Warn("Object lookup failed", "token", token, "error", err)
		matches = nil
	}
	if len(matches) == 0 {
		return &Result{
			Found:   false,
			Message: fmt.Sprintf("'%s' is not being tracked. Please teach this object first in the 'Teach Objects' section.", token),
		}, nil
	}

	obj := pickMatch(matches, token)
	log = log.WithObject(obj.ID, obj.Name)

	enhanced := query.BuildEnhancedQuery(obj.Name, obj.Alias)
	candidates := o.video.SearchVideos(ctx, enhanced, o.limit)
	if len(candidates) == 0 {
		return &Result{
			Found:   false,
			Message: fmt.Sprintf("No videos found containing '%s'. Try uploading more videos of your spaces.", obj.Name),
		}, nil
	}

	best := candidates[0]
	chatID := best.RecordingID
	if chatID == "" {
		chatID = UnknownRecording
	}
	location := o.video.DescribeLocation(ctx, chatID, query.BuildLocationPrompt(obj.Name))
	confidence := confidenceOf(best)

	snapshot := obj
	if best.Timestamp != nil && best.RecordingID != "" {
		ls := objects.LastSeen{
			Timestamp:   *best.Timestamp,
			Location:    location,
			RecordingID: best.RecordingID,
			Confidence:  confidence,
		}
		if err := o.store.UpdateLastSeen(ctx, obj.ID, ls); err != nil {
			log.Warn("Failed to record last seen location", "error", err)
		}
		snapshot.ApplyLastSeen(ls)
	}

	o.publishLocated(ctx, snapshot, location, best, confidence)

	log.Info("Object located", "video_no", best.RecordingID, "confidence", confidence)

	return &Result{
		Found:       true,
		Location:    location,
		Timestamp:   best.Timestamp,
		RecordingID: best.RecordingID,
		Confidence:  &confidence,
		Object:      &snapshot,
	}, nil
}

// pickMatch prefers an exact name match and otherwise keeps the store's
// order (newest first).
func pickMatch(matches []objects.TrackedObject, token string) objects.TrackedObject {
	for _, m := range matches {
		if strings.EqualFold(m.Name, token) {
			return m
		}
	}
	return matches[0]
}

func confidenceOf(c video.Candidate) float64 {
	if c.Confidence == nil || math.IsNaN(*c.Confidence) {
		return DefaultConfidence
	}
	return math.Min(1, math.Max(0, *c.Confidence))
}

func (o *Orchestrator) publishLocated(ctx context.Context, obj objects.TrackedObject, location string, best video.Candidate, confidence float64) {
	if o.bus == nil {
		return
	}

	ev := bus.NewEvent(bus.TopicObjectLocated, EventSource, bus.ObjectLocated{
		ObjectID:    obj.ID,
		Name:        obj.Name,
		Location:    location,
		RecordingID: best.RecordingID,
		Timestamp:   best.Timestamp,
		Confidence:  confidence,
	})
	ev.CorrelationID = logger.RequestIDFromContext(ctx)

	if err := o.bus.Publish(ctx, bus.TopicObjectLocated, ev); err != nil {
		o.log.Warn("Failed to publish event", "topic", bus.TopicObjectLocated, "error", err)
	}
}

// History returns objects with a recorded sighting, most recently seen
// first. A store failure yields an empty history.
func (o *Orchestrator) History(ctx context.Context) History {
	all, err := o.store.List(ctx)
	if err != nil {
		o.log.WithContext(ctx).Warn("Failed to list objects for history", "error", err)
		return History{FoundObjects: []objects.TrackedObject{}}
	}

	found := make([]objects.TrackedObject, 0, len(all))
	for _, obj := range all {
		if obj.HasBeenSeen() {
			found = append(found, obj)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return *found[i].LastSeenTimestamp > *found[j].LastSeenTimestamp
	})

	h := History{
		TotalFound:   len(found),
		TotalTracked: len(all),
	}
	if len(found) > MaxHistory {
		found = found[:MaxHistory]
	}
	h.FoundObjects = found
	return h
}

// Suggestions returns up to MaxSuggestions example queries built from the
// tracked object names, or generic ones when nothing is tracked. A store
// failure yields no suggestions.
func (o *Orchestrator) Suggestions(ctx context.Context) Suggestions {
	all, err := o.store.List(ctx)
	if err != nil {
		o.log.WithContext(ctx).Warn("Failed to list objects for suggestions", "error", err)
		return Suggestions{Suggestions: []string{}}
	}

	names := make([]string, len(all))
	for i, obj := range all {
		names[i] = obj.Name
	}

	return Suggestions{
		Suggestions:         query.Suggestions(names, MaxSuggestions),
		TrackedObjectsCount: len(all),
	}
}
