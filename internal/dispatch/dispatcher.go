package dispatch

import (
	"sync"

	"github.com/matchpulse/chatsync/pkg/logger"
	"github.com/matchpulse/chatsync/pkg/metrics"
)

// Handler receives typed push events. Handlers must be idempotent merges
// against current state: delivery is at-least-once and unordered across
// event types.
type Handler func(Event)

// Dispatcher demultiplexes inbound push events to its subscribers, e.g. the
// open chat panel and the conversation-list badge count.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
	logger *logger.Logger
}

// New creates an empty dispatcher.
func New(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   make(map[int]Handler),
		logger: log,
	}
}

// Subscribe registers a handler and returns its unsubscribe func.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.subs[id] = h

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Dispatch fans an event out to a snapshot of the current subscribers, so
// unsubscription during dispatch is safe.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	snapshot := make([]Handler, 0, len(d.subs))
	for _, h := range d.subs {
		snapshot = append(snapshot, h)
	}
	d.mu.RUnlock()

	metrics.PushEventsTotal.WithLabelValues(string(ev.EventType())).Inc()

	for _, h := range snapshot {
		h(ev)
	}
}

// DispatchRaw decodes a wire payload and dispatches it. Malformed payloads
// are dropped with a diagnostic log; other subscribers keep receiving.
func (d *Dispatcher) DispatchRaw(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		metrics.PushEventsDropped.Inc()
		d.logger.Warnw("dropping push event", "error", err)
		return
	}
	d.Dispatch(ev)
}
