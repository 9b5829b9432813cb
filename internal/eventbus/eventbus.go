// Package eventbus is the durable plane of the event/log fabric: typed
// lifecycle events, partitioned by project, retained for at least the
// configured window, and fanned out to every consumer group subscribed
// before publish. Delivery is not at-least-once: an event is dropped for a
// consumer group whose channel buffer is full, and there is no
// acknowledgement or redelivery.
package eventbus

import (
	"context"
	"sync"
	"time"

	"forge/internal/domain"

	"github.com/sirupsen/logrus"
)

const defaultRetention = 7 * 24 * time.Hour

// EventBus is the durable, partitioned lifecycle-event plane. Two
// implementations are plug-compatible: InMemory for tests and single-node
// operation, and a durable broker-backed one for production (left to
// deployment-specific wiring — the interface is the contract).
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(ctx context.Context, projectID string, group string) (<-chan domain.Event, error)
	Unsubscribe(group string)
}

type subscriber struct {
	ch    chan domain.Event
	group string
}

// partition holds one project's ordered event history plus its live
// subscriber set.
type partition struct {
	mu          sync.Mutex
	history     []domain.Event
	subscribers map[string]*subscriber
}

// InMemory is a single-process EventBus: ordered per partition, retained
// for the retention window (7 days), replayed to a consumer group at
// subscribe time.
type InMemory struct {
	mu         sync.Mutex
	partitions map[string]*partition
	retention  time.Duration
}

// NewInMemory builds an in-memory EventBus with the default 7-day retention.
func NewInMemory() *InMemory {
	return &InMemory{
		partitions: make(map[string]*partition),
		retention:  defaultRetention,
	}
}

func (b *InMemory) partitionFor(projectID string) *partition {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.partitions[projectID]
	if !ok {
		p = &partition{subscribers: make(map[string]*subscriber)}
		b.partitions[projectID] = p
	}
	return p
}

// Publish appends the event to its project partition, in submission order,
// and fans it out to every live subscriber for that partition. A subscriber
// whose buffer is full misses the event; the drop is logged as a warning.
func (b *InMemory) Publish(_ context.Context, event domain.Event) error {
	if event.Ts.IsZero() {
		event.Ts = time.Now().UTC()
	}

	p := b.partitionFor(event.ProjectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = append(p.history, event)
	b.evictLocked(p)

	for _, sub := range p.subscribers {
		select {
		case sub.ch <- event:
		default:
			logrus.Warnf("eventbus: consumer group %s backpressured, dropping event %s", sub.group, event.ID)
		}
	}
	return nil
}

func (b *InMemory) evictLocked(p *partition) {
	cutoff := time.Now().Add(-b.retention)
	i := 0
	for i < len(p.history) && p.history[i].Ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.history = p.history[i:]
	}
}

// Subscribe returns a channel that first replays retained history for the
// partition, then streams live events, for the named consumer group.
func (b *InMemory) Subscribe(_ context.Context, projectID string, group string) (<-chan domain.Event, error) {
	p := b.partitionFor(projectID)
	p.mu.Lock()
	defer p.mu.Unlock()

	// History is queued before the subscriber is registered, so it always
	// precedes live events on the channel and none of it is dropped.
	ch := make(chan domain.Event, len(p.history)+256)
	for _, e := range p.history {
		ch <- e
	}
	p.subscribers[group] = &subscriber{ch: ch, group: group}

	return ch, nil
}

// Unsubscribe removes a consumer group's subscription from every partition.
func (b *InMemory) Unsubscribe(group string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.partitions {
		p.mu.Lock()
		if sub, ok := p.subscribers[group]; ok {
			close(sub.ch)
			delete(p.subscribers, group)
		}
		p.mu.Unlock()
	}
}
