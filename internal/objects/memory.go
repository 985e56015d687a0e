package objects

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in memory. Used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[int64]TrackedObject
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[int64]TrackedObject),
		nextID:  1,
		now:     time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, obj NewObject) (*TrackedObject, error) {
	obj, err := prepare(obj)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.objects {
		if existing.Name == obj.Name {
			return nil, alreadyExists(obj.Name)
		}
	}

	created := TrackedObject{
		ID:        m.nextID,
		Name:      obj.Name,
		Alias:     obj.Alias,
		CreatedAt: m.now().UTC(),
	}
	m.objects[created.ID] = created
	m.nextID++

	return copyObject(created), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]TrackedObject, error) {
	return m.filter(func(TrackedObject) bool { return true }), nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*TrackedObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[id]
	if !ok {
		return nil, notFound()
	}
	return copyObject(obj), nil
}

func (m *MemoryStore) FindMatching(ctx context.Context, query string) ([]TrackedObject, error) {
	q := strings.ToLower(query)
	return m.filter(func(o TrackedObject) bool {
		return strings.Contains(strings.ToLower(o.Name), q) || strings.Contains(strings.ToLower(o.Alias), q)
	}), nil
}

func (m *MemoryStore) UpdateLastSeen(ctx context.Context, id int64, ls LastSeen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[id]
	if !ok {
		return notFound()
	}
	obj.ApplyLastSeen(ls)
	m.objects[id] = obj
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[id]; !ok {
		return notFound()
	}
	delete(m.objects, id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// filter returns copies of matching objects, newest first.
func (m *MemoryStore) filter(keep func(TrackedObject) bool) []TrackedObject {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TrackedObject, 0, len(m.objects))
	for _, obj := range m.objects {
		if keep(obj) {
			out = append(out, *copyObject(obj))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// copyObject deep-copies obj so callers cannot mutate stored state.
func copyObject(obj TrackedObject) *TrackedObject {
	c := obj
	if obj.LastSeenTimestamp != nil {
		v := *obj.LastSeenTimestamp
		c.LastSeenTimestamp = &v
	}
	if obj.LocationPhrase != nil {
		v := *obj.LocationPhrase
		c.LocationPhrase = &v
	}
	if obj.RecordingID != nil {
		v := *obj.RecordingID
		c.RecordingID = &v
	}
	if obj.Confidence != nil {
		v := *obj.Confidence
		c.Confidence = &v
	}
	return &c
}
