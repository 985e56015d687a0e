// Package objects persists the objects a user has taught the system and the
// last place each was seen.
package objects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/objectfinder/object-finder/internal/pkg/errors"
)

// Field limits.
const (
	MaxNameLength  = 100
	MaxAliasLength = 500
)

// TrackedObject is a named physical object with its last known location.
// Last-seen fields are nil until the object is first found.
type TrackedObject struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Alias             string    `json:"alias"`
	LastSeenTimestamp *int64    `json:"last_seen_timestamp"` // ms since epoch
	LocationPhrase    *string   `json:"location_phrase"`
	RecordingID       *string   `json:"video_no"`
	Confidence        *float64  `json:"confidence"`
	CreatedAt         time.Time `json:"created_at"`
}

// HasBeenSeen reports whether the object has a recorded sighting.
func (o *TrackedObject) HasBeenSeen() bool {
	return o.LastSeenTimestamp != nil && o.LocationPhrase != nil
}

// ApplyLastSeen sets the last-seen fields from ls.
func (o *TrackedObject) ApplyLastSeen(ls LastSeen) {
	ts := ls.Timestamp
	loc := ls.Location
	rec := ls.RecordingID
	conf := ls.Confidence

	o.LastSeenTimestamp = &ts
	o.LocationPhrase = &loc
	o.RecordingID = &rec
	o.Confidence = &conf
}

// NewObject is the input for creating a tracked object.
type NewObject struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// Normalize trims both fields and lower-cases the name.
func (n NewObject) Normalize() NewObject {
	return NewObject{
		Name:  strings.ToLower(strings.TrimSpace(n.Name)),
		Alias: strings.TrimSpace(n.Alias),
	}
}

// Validate checks a normalized NewObject.
func (n NewObject) Validate() error {
	switch {
	case n.Name == "":
		return errors.ValidationError("Object name cannot be empty")
	case n.Alias == "":
		return errors.ValidationError("Object description cannot be empty")
	case len(n.Name) > MaxNameLength:
		return errors.ValidationError(fmt.Sprintf("Object name must be at most %d characters", MaxNameLength))
	case len(n.Alias) > MaxAliasLength:
		return errors.ValidationError(fmt.Sprintf("Object description must be at most %d characters", MaxAliasLength))
	}
	return nil
}

// LastSeen is one sighting of an object.
type LastSeen struct {
	Timestamp   int64 // ms since epoch
	Location    string
	RecordingID string
	Confidence  float64
}

// Store is the persistence collaborator for tracked objects.
//
// Create fails with an ALREADY_EXISTS AppError when the name is taken and a
// VALIDATION_ERROR AppError for bad input. Get, UpdateLastSeen and Delete
// fail with NOT_FOUND for unknown ids. Other failures are PERSISTENCE_ERROR.
type Store interface {
	// Create inserts a new object. The name is stored lower-cased.
	Create(ctx context.Context, obj NewObject) (*TrackedObject, error)

	// List returns all objects, newest first.
	List(ctx context.Context) ([]TrackedObject, error)

	// Get returns one object.
	Get(ctx context.Context, id int64) (*TrackedObject, error)

	// FindMatching returns objects whose name or alias contains query,
	// case-insensitively, newest first.
	FindMatching(ctx context.Context, query string) ([]TrackedObject, error)

	// UpdateLastSeen records a sighting.
	UpdateLastSeen(ctx context.Context, id int64, ls LastSeen) error

	// Delete removes an object.
	Delete(ctx context.Context, id int64) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

func alreadyExists(name string) error {
	return errors.AlreadyExistsError(fmt.Sprintf("Object '%s'", name))
}

func notFound() error {
	return errors.NotFoundError("Object")
}

func prepare(obj NewObject) (NewObject, error) {
	obj = obj.Normalize()
	if err := obj.Validate(); err != nil {
		return NewObject{}, err
	}
	return obj, nil
}
