// ABOUTME: In-memory fan-out of QMP events to subscribers filtered by event name
// ABOUTME: Fed by a connection's reader goroutine; slow subscribers drop events instead of blocking it

package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/qapi/internal/qmp"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

type subscriber struct {
	names map[string]struct{} // empty means every event
	ch    chan *qmp.Event
	stop  func() bool
}

func (s *subscriber) wants(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Broadcaster provides in-memory pub/sub for QMP events. The reader of a
// connection is the only publisher; publishing never blocks it.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber // subID -> subscriber
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "eventbus"),
	}
}

// Subscribe registers a subscriber for the named events, or for every event
// when no names are given. It returns the event channel and a subscription
// ID. The subscription ends when ctx is cancelled, on Unsubscribe, or on
// Close; the channel is closed in each case. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context, names ...string) (<-chan *qmp.Event, string) {
	subID := uuid.New().String()
	ch := make(chan *qmp.Event, subscriberBufferSize)

	sub := &subscriber{
		names: make(map[string]struct{}, len(names)),
		ch:    ch,
	}
	for _, name := range names {
		sub.names[name] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = sub
	sub.stop = context.AfterFunc(ctx, func() {
		b.Unsubscribe(subID)
	})
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "events", names)
	return ch, subID
}

// Publish delivers an event to every interested subscriber. Events are
// dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(event *qmp.Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, sub := range b.subscribers {
		if !sub.wants(event.Name) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropped event for slow subscriber",
				"sub_id", subID,
				"event", event.Name)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subID]
	if ok {
		delete(b.subscribers, subID)
		close(sub.ch)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	if sub.stop != nil {
		sub.stop()
	}
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel. It is safe to call multiple times.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for subID, sub := range b.subscribers {
		close(sub.ch)
		if sub.stop != nil {
			sub.stop()
		}
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
