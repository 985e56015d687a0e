package bus

import (
	"context"
	"time"

	"github.com/objectfinder/object-finder/internal/metrics"
)

// OpBusPublish is the instrumentor operation name for publishes.
const OpBusPublish = "bus_publish"

// InstrumentedBus wraps a Bus implementation and times every publish.
type InstrumentedBus struct {
	inner Bus
	inst  *metrics.Instrumentor
}

// NewInstrumentedBus creates a new instrumented bus.
func NewInstrumentedBus(inner Bus, inst *metrics.Instrumentor) *InstrumentedBus {
	return &InstrumentedBus{
		inner: inner,
		inst:  inst,
	}
}

// Publish publishes an event to a topic and records its duration.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)

	if b.inst != nil {
		outcome := metrics.Success
		if err != nil {
			outcome = metrics.Failure
		}
		b.inst.Record(OpBusPublish, time.Since(start), outcome)
	}

	return err
}

// Subscribe subscribes to events on a topic.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the underlying bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
