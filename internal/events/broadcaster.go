// Package events fans tree refresh notifications out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/timkendrick/shunt/internal/metrics"
)

const (
	EventRefresh = "refresh"
	EventReset   = "reset"
)

// subscriberBuffer is how many undelivered events a subscriber may queue
// before further events are dropped for it.
const subscriberBuffer = 64

// Event announces that an app tree was refreshed from the remote.
type Event struct {
	Type      string `json:"type"`
	App       string `json:"app"`
	Cursor    string `json:"cursor,omitempty"`
	Nodes     int    `json:"nodes"`
	Pages     int    `json:"pages"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster delivers events to subscribers, each optionally limited to a
// single app tree. A slow subscriber loses events rather than blocking the
// publisher.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]string // app filter, "" = all apps
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]string)}
}

// Subscribe registers a subscriber. A non-empty app (user/app) limits
// delivery to that app tree. Pair every Subscribe with Unsubscribe.
func (b *Broadcaster) Subscribe(app string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = app
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Repeated calls
// are no-ops.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	if ok {
		delete(b.subs, ch)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	if ok {
		metrics.SetSSEConnectionsActive(n)
	}
}

// Publish stamps the event if needed and offers it to every matching
// subscriber. It reports how many received it and how many were dropped
// because their buffer was full.
func (b *Broadcaster) Publish(event Event) (delivered, dropped int) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	for ch, app := range b.subs {
		if app != "" && app != event.App {
			continue
		}
		select {
		case ch <- event:
			delivered++
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	metrics.RecordSSEEvent(event.Type, delivered, dropped)
	return delivered, dropped
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// MarshalEvent encodes the SSE data line of an event.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
