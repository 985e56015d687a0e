// Package bus publishes domain events (objects taught, found, deleted and
// videos uploaded) to in-process subscribers or Kafka.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (ms since epoch).
	Timestamp int64 `json:"timestamp"`

	// CorrelationID is the request id that caused the event, if any.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Topics.
const (
	TopicObjectCreated = "object.created"
	TopicObjectDeleted = "object.deleted"
	TopicObjectLocated = "object.located"
	TopicVideoUploaded = "video.uploaded"
)

// AllTopics lists every topic the service publishes.
var AllTopics = []string{
	TopicObjectCreated,
	TopicObjectDeleted,
	TopicObjectLocated,
	TopicVideoUploaded,
}

// ObjectLocated is the payload of TopicObjectLocated.
type ObjectLocated struct {
	ObjectID    int64   `json:"object_id"`
	Name        string  `json:"name"`
	Location    string  `json:"location"`
	RecordingID string  `json:"video_no,omitempty"`
	Timestamp   *int64  `json:"timestamp,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ObjectChanged is the payload of TopicObjectCreated and TopicObjectDeleted.
type ObjectChanged struct {
	ObjectID int64  `json:"object_id"`
	Name     string `json:"name,omitempty"`
}

// VideoUploaded is the payload of TopicVideoUploaded.
type VideoUploaded struct {
	RecordingID string `json:"video_no"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	Mock        bool   `json:"mock"`
}
