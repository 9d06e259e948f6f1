// Package observer fans playback updates out to subscribed presentation layers.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tabloop/internal/app/playback"
	"github.com/osa030/tabloop/internal/domain/tab"
)

// DefaultSendTimeout bounds how long one subscriber may block a broadcast.
const DefaultSendTimeout = 500 * time.Millisecond

// ErrClosed is returned when broadcasting on a closed hub.
var ErrClosed = errors.New("observer hub is closed")

// Update is a single broadcast to subscribers.
type Update struct {
	SequenceNo uint64
	Type       playback.EventType
	Chord      *tab.Chord // Set for chord_started
	Snapshot   playback.Snapshot
}

// Sink receives updates for one subscriber.
type Sink interface {
	Send(update *Update) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(update *Update) error

// Send calls f(update).
func (f SinkFunc) Send(update *Update) error {
	return f(update)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id   string
	sink Sink
}

// Hub manages subscriptions and broadcasting.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool

	sequenceNo   uint64
	sequenceNoMu sync.Mutex

	timeout time.Duration
}

// NewHub creates a hub. A non-positive timeout uses DefaultSendTimeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Hub{
		subscriptions: make(map[string]*subscription),
		timeout:       timeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (h *Hub) Subscribe(sink Sink) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	h.subscriptions[id] = &subscription{
		id:   id,
		sink: sink,
	}
	return id
}

// Unsubscribe removes a subscription.
func (h *Hub) Unsubscribe(subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscriptions, subscriptionID)
}

func (h *Hub) nextSequenceNo() uint64 {
	h.sequenceNoMu.Lock()
	defer h.sequenceNoMu.Unlock()
	h.sequenceNo++
	return h.sequenceNo
}

// Publish converts an engine event into an update and broadcasts it.
func (h *Hub) Publish(ev playback.Event) error {
	return h.Broadcast(&Update{
		Type:     ev.Type,
		Chord:    ev.Chord,
		Snapshot: ev.Snapshot,
	})
}

// Broadcast stamps the update with the next sequence number and sends it to
// every subscriber in parallel. A subscriber that returns an error is removed;
// one that exceeds the timeout is skipped for this update.
func (h *Hub) Broadcast(update *Update) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	update.SequenceNo = h.nextSequenceNo()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []string
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.sink.Send(update)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("observer: dropping subscriber: id=%s", s.id)
					failMu.Lock()
					failed = append(failed, s.id)
					failMu.Unlock()
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("observer: send timed out: id=%s seq=%d", s.id, update.SequenceNo)
			}
		}(sub)
	}
	wg.Wait()

	for _, id := range failed {
		h.Unsubscribe(id)
	}
	return nil
}

// Pump publishes engine events until the channel closes or ctx is done.
// A non-nil after is called with each event once it has been published.
// Events keep flowing to after when the hub is closed.
func (h *Hub) Pump(ctx context.Context, events <-chan playback.Event, after func(playback.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.Publish(ev); err != nil && !errors.Is(err, ErrClosed) {
				zlog.Warn().Err(err).Msg("observer: failed to publish playback event")
			}
			if after != nil {
				after(ev)
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close closes the hub and removes all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subscriptions = make(map[string]*subscription)
}
