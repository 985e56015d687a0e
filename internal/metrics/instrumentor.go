// Package metrics records per-operation call latency and outcome for the
// external calls made by the search pipeline.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/objectfinder/object-finder/internal/pkg/logger"
)

// Operation names recorded by the video client.
const (
	OpVideoUpload = "video_upload"
	OpVideoSearch = "video_search"
	OpVideoChat   = "video_chat"
)

// Outcome is the result of one instrumented call.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// String returns the outcome label.
func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "error"
}

// Metric is the aggregate for one operation name. Durations are in seconds.
type Metric struct {
	Calls        int64   `json:"calls"`
	TotalSeconds float64 `json:"total_time"`
	AvgSeconds   float64 `json:"avg_time"`
	MinSeconds   float64 `json:"min_time"`
	MaxSeconds   float64 `json:"max_time"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
}

// DataPoint is a single recorded duration.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistorySink receives every recorded duration. Implementations must be safe
// for concurrent use.
type HistorySink interface {
	SaveDataPoint(ctx context.Context, metric string, dp DataPoint) error
}

// Instrumentor aggregates call metrics by operation name.
type Instrumentor struct {
	mu      sync.Mutex
	metrics map[string]*Metric

	log         *logger.Logger
	sink        HistorySink
	sinkTimeout time.Duration
	now         func() time.Time
}

// Option configures an Instrumentor.
type Option func(*Instrumentor)

// WithLogger logs each recorded call.
func WithLogger(log *logger.Logger) Option {
	return func(i *Instrumentor) {
		i.log = log
	}
}

// WithHistory forwards each recorded duration to sink. Writes happen off the
// caller's goroutine and failures are only logged.
func WithHistory(sink HistorySink) Option {
	return func(i *Instrumentor) {
		i.sink = sink
	}
}

// NewInstrumentor creates an empty Instrumentor.
func NewInstrumentor(opts ...Option) *Instrumentor {
	i := &Instrumentor{
		metrics:     make(map[string]*Metric),
		log:         logger.Discard(),
		sinkTimeout: 2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Record adds one call of the named operation.
func (i *Instrumentor) Record(name string, d time.Duration, outcome Outcome) {
	secs := d.Seconds()

	i.mu.Lock()
	m, ok := i.metrics[name]
	if !ok {
		m = &Metric{MinSeconds: secs, MaxSeconds: secs}
		i.metrics[name] = m
	}
	m.Calls++
	m.TotalSeconds += secs
	m.AvgSeconds = m.TotalSeconds / float64(m.Calls)
	if secs < m.MinSeconds {
		m.MinSeconds = secs
	}
	if secs > m.MaxSeconds {
		m.MaxSeconds = secs
	}
	if outcome == Success {
		m.SuccessCount++
	} else {
		m.ErrorCount++
	}
	i.mu.Unlock()

	if outcome == Success {
		i.log.Debug("Call completed", "operation", name, "duration", d)
	} else {
		i.log.Warn("Call failed", "operation", name, "duration", d)
	}

	if i.sink != nil {
		dp := DataPoint{Timestamp: i.now(), Value: secs}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), i.sinkTimeout)
			defer cancel()
			if err := i.sink.SaveDataPoint(ctx, name, dp); err != nil {
				i.log.Warn("Failed to save metric data point", "operation", name, "error", err)
			}
		}()
	}
}

// Timed runs fn and records its duration under name. The returned value and
// error are fn's own; a panic is recorded as a failure and re-raised.
func Timed[T any](ctx context.Context, inst *Instrumentor, name string, fn func(context.Context) (T, error)) (result T, err error) {
	start := time.Now()
	completed := false

	defer func() {
		if inst == nil {
			return
		}
		outcome := Success
		if !completed || err != nil {
			outcome = Failure
		}
		inst.Record(name, time.Since(start), outcome)
	}()

	result, err = fn(ctx)
	completed = true
	return result, err
}

// Snapshot returns a copy of all metrics.
func (i *Instrumentor) Snapshot() map[string]Metric {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string]Metric, len(i.metrics))
	for name, m := range i.metrics {
		out[name] = *m
	}
	return out
}

// Get returns the metric for one operation.
func (i *Instrumentor) Get(name string) (Metric, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	m, ok := i.metrics[name]
	if !ok {
		return Metric{}, false
	}
	return *m, true
}

// Names returns the recorded operation names, sorted.
func (i *Instrumentor) Names() []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	names := make([]string, 0, len(i.metrics))
	for name := range i.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears all metrics.
func (i *Instrumentor) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metrics = make(map[string]*Metric)
}
