package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/objectfinder/object-finder/internal/pkg/errors"
)

// compactEvery bounds how often Log rewrites the journal to drop expired
// entries.
const compactEvery = time.Hour

// maxLineSize caps a single journal line.
const maxLineSize = 1024 * 1024

// LoggedEvent is one journal entry. ObjectID and RecordingID are lifted out
// of the payload so entries can be filtered without decoding it.
type LoggedEvent struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ObjectID      int64           `json:"object_id,omitempty"`
	RecordingID   string          `json:"video_no,omitempty"`
	PublishedAt   int64           `json:"timestamp"` // ms since epoch
	LoggedAt      time.Time       `json:"logged_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode returns the payload as the typed value for its topic:
// ObjectLocated, ObjectChanged or VideoUploaded. Unknown topics decode to
// generic JSON values.
func (e LoggedEvent) Decode() (any, error) {
	return decodePayload(e.Topic, e.Payload)
}

func decodePayload(topic string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	switch topic {
	case TopicObjectLocated:
		var p ObjectLocated
		err := json.Unmarshal(raw, &p)
		return p, err
	case TopicObjectCreated, TopicObjectDeleted:
		var p ObjectChanged
		err := json.Unmarshal(raw, &p)
		return p, err
	case TopicVideoUploaded:
		var p VideoUploaded
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		var p any
		err := json.Unmarshal(raw, &p)
		return p, err
	}
}

func newLoggedEvent(topic string, event Event, now time.Time) (LoggedEvent, error) {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return LoggedEvent{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	le := LoggedEvent{
		ID:            event.ID,
		Topic:         topic,
		Source:        event.Source,
		CorrelationID: event.CorrelationID,
		PublishedAt:   event.Timestamp,
		LoggedAt:      now,
		Payload:       raw,
	}

	// A payload that does not match its topic is still journaled, just
	// without the lifted ids.
	if decoded, err := decodePayload(topic, raw); err == nil {
		switch p := decoded.(type) {
		case ObjectLocated:
			le.ObjectID = p.ObjectID
			le.RecordingID = p.RecordingID
		case ObjectChanged:
			le.ObjectID = p.ObjectID
		case VideoUploaded:
			le.RecordingID = p.RecordingID
		}
	}
	return le, nil
}

// EventFilter selects journal entries. Zero fields match everything.
type EventFilter struct {
	Since         time.Time
	Topic         string
	CorrelationID string
	ObjectID      int64
	RecordingID   string

	// Limit keeps only the newest matches. Zero means no limit.
	Limit int
}

func (f EventFilter) match(e LoggedEvent) bool {
	switch {
	case !f.Since.IsZero() && !e.LoggedAt.After(f.Since):
		return false
	case f.Topic != "" && e.Topic != f.Topic:
		return false
	case f.CorrelationID != "" && e.CorrelationID != f.CorrelationID:
		return false
	case f.ObjectID != 0 && e.ObjectID != f.ObjectID:
		return false
	case f.RecordingID != "" && e.RecordingID != f.RecordingID:
		return false
	}
	return true
}

// EventLogger is an append-only journal of published events, stored as JSON
// lines. Entries older than the retention period are dropped when the
// journal is opened and at most once per hour while it is written.
type EventLogger struct {
	path      string
	retention time.Duration
	now       func() time.Time

	mu          sync.Mutex
	file        *os.File
	enc         *json.Encoder
	lastCompact time.Time
}

// NewEventLogger opens the journal at path, creating it if needed. A zero
// retention keeps entries forever.
func NewEventLogger(path string, retention time.Duration) (*EventLogger, error) {
	if retention < 0 {
		return nil, errors.New(errors.CodeValidation, "event log retention must not be negative")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}

	l := &EventLogger{
		path:      path,
		retention: retention,
		now:       time.Now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.compactLocked(); err != nil {
		return nil, err
	}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the journal file.
func (l *EventLogger) Path() string {
	return l.path
}

// Retention returns how long entries are kept.
func (l *EventLogger) Retention() time.Duration {
	return l.retention
}

// Log appends an event published on topic.
func (l *EventLogger) Log(topic string, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event log is closed")
	}

	now := l.now()
	if l.retention > 0 && now.Sub(l.lastCompact) >= compactEvery {
		if _, err := l.compactLocked(); err != nil {
			return err
		}
		if err := l.openLocked(); err != nil {
			return err
		}
	}

	le, err := newLoggedEvent(topic, event, now)
	if err != nil {
		return err
	}
	if err := l.enc.Encode(le); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return l.file.Sync()
}

// Query returns the entries matching f in the order they were logged. With
// a limit only the newest matches are kept.
func (l *EventLogger) Query(f EventFilter) ([]LoggedEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.cutoff()
	var events []LoggedEvent
	err := l.scanLocked(func(e LoggedEvent) {
		if !cutoff.IsZero() && e.LoggedAt.Before(cutoff) {
			return
		}
		if !f.match(e) {
			return
		}
		events = append(events, e)
		if f.Limit > 0 && len(events) > f.Limit {
			events = events[1:]
		}
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []LoggedEvent{}
	}
	return events, nil
}

// Compact rewrites the journal without expired or unreadable lines and
// reports how many expired entries were dropped. With a zero retention it
// does nothing.
func (l *EventLogger) Compact() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reopen := l.file != nil
	dropped, err := l.compactLocked()
	if err != nil {
		return 0, err
	}
	if reopen {
		if err := l.openLocked(); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}

// Close closes the journal. Later writes fail; queries still read the file.
func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.enc = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

func (l *EventLogger) cutoff() time.Time {
	if l.retention <= 0 {
		return time.Time{}
	}
	return l.now().Add(-l.retention)
}

func (l *EventLogger) openLocked() error {
	if l.file != nil {
		return nil
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	l.file = file
	l.enc = json.NewEncoder(file)
	return nil
}

// scanLocked calls fn for every readable entry. Malformed lines are skipped.
func (l *EventLogger) scanLocked(fn func(LoggedEvent)) error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var e LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}
	return nil
}

// compactLocked rewrites the journal through a temp file and rename. The
// append handle is closed; callers reopen it.
func (l *EventLogger) compactLocked() (int, error) {
	l.lastCompact = l.now()
	if l.retention <= 0 {
		return 0, nil
	}

	cutoff := l.cutoff()
	var kept []LoggedEvent
	total := 0
	if err := l.scanLocked(func(e LoggedEvent) {
		total++
		if !e.LoggedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}); err != nil {
		return 0, err
	}

	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
		l.enc = nil
	}

	tmp := l.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to compact event log: %w", err)
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, e := range kept {
		if err := enc.Encode(e); err != nil {
			out.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("failed to compact event log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to compact event log: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to compact event log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to compact event log: %w", err)
	}

	return total - len(kept), nil
}
