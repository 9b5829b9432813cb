// Package logbus is the best-effort plane of the event/log fabric: build
// and runtime log lines with a 24h rolling history and high-fanout,
// backpressure-terminated subscriptions. It intentionally trades
// durability for latency — publishers never block on slow subscribers.
package logbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forge/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	defaultTTL        = 24 * time.Hour
	highWaterMark     = 512
	statusBufferSize  = 32
)

// SubscriberOverflow is delivered to a log subscriber whose buffer exceeded
// the high-water mark; the subscription is then terminated and the client
// is expected to reconnect.
type SubscriberOverflow struct {
	DeploymentID string
}

func (e *SubscriberOverflow) Error() string {
	return fmt.Sprintf("subscriber overflow for deployment %s", e.DeploymentID)
}

// LogMessage is either a log line or a terminal overflow signal delivered
// on a subscription channel; status updates are not delivered on it.
type LogMessage struct {
	Entry    *domain.LogEntry
	Overflow *SubscriberOverflow
}

// LogBus is the transient log/status plane. Implementations must be
// plug-compatible: InMemory here, a pub/sub broker in production.
type LogBus interface {
	PublishLog(ctx context.Context, deploymentID string, entry domain.LogEntry) error
	PublishStatus(ctx context.Context, deploymentID string, update domain.Deployment) error
	PublishProjectEvent(ctx context.Context, projectID string, event domain.Event) error
	SubscribeLogs(ctx context.Context, deploymentID string) (<-chan LogMessage, func(), error)
}

type logStream struct {
	mu      sync.Mutex
	history []domain.LogEntry
	subs    map[int]chan LogMessage
	nextSub int
}

// InMemory is a single-process LogBus with 24h TTL history per deployment.
type InMemory struct {
	mu      sync.Mutex
	streams map[string]*logStream
	ttl     time.Duration
}

// NewInMemory builds an in-memory LogBus with the default 24h TTL.
func NewInMemory() *InMemory {
	return &InMemory{
		streams: make(map[string]*logStream),
		ttl:     defaultTTL,
	}
}

func (b *InMemory) streamFor(deploymentID string) *logStream {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[deploymentID]
	if !ok {
		s = &logStream{subs: make(map[int]chan LogMessage)}
		b.streams[deploymentID] = s
	}
	return s
}

// PublishLog appends entry to the deployment's ordered history and fans it
// out to every live subscriber for that deployment.
func (b *InMemory) PublishLog(_ context.Context, deploymentID string, entry domain.LogEntry) error {
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}

	s := b.streamFor(deploymentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	b.evictLocked(s)

	for id, ch := range s.subs {
		select {
		case ch <- LogMessage{Entry: &entry}:
		default:
			logrus.Warnf("logbus: subscriber %d for %s exceeded high-water mark, disconnecting", id, deploymentID)
			// Drop the oldest buffered line to make room for the overflow
			// signal; the subscription is closed right after it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- LogMessage{Overflow: &SubscriberOverflow{DeploymentID: deploymentID}}:
			default:
			}
			close(ch)
			delete(s.subs, id)
		}
	}
	return nil
}

func (b *InMemory) evictLocked(s *logStream) {
	cutoff := time.Now().Add(-b.ttl)
	i := 0
	for i < len(s.history) && s.history[i].Ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.history = s.history[i:]
	}
}

// PublishStatus writes a status update to the debug log only: it is not
// delivered to log subscribers and no history is kept for it. Callers
// read the current state through the orchestrator's Get instead.
func (b *InMemory) PublishStatus(_ context.Context, deploymentID string, update domain.Deployment) error {
	logrus.Debugf("logbus: status update for %s: %s", deploymentID, update.Status)
	return nil
}

// PublishProjectEvent writes a project-scoped event to the debug log only;
// it is not delivered to any subscriber and no history is kept for it.
func (b *InMemory) PublishProjectEvent(_ context.Context, projectID string, event domain.Event) error {
	logrus.Debugf("logbus: project event for %s: %s", projectID, event.Type)
	return nil
}

// SubscribeLogs returns a channel that first replays retained history for
// deploymentID, then streams live log lines, plus a cancel func.
func (b *InMemory) SubscribeLogs(_ context.Context, deploymentID string) (<-chan LogMessage, func(), error) {
	s := b.streamFor(deploymentID)
	s.mu.Lock()

	id := s.nextSub
	s.nextSub++
	// History is queued before the subscriber is registered, so it always
	// precedes live lines on the channel and none of it is dropped.
	ch := make(chan LogMessage, len(s.history)+highWaterMark)
	for _, e := range s.history {
		entry := e
		ch <- LogMessage{Entry: &entry}
	}
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}

	return ch, cancel, nil
}
