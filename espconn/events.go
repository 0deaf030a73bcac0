package espconn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventStateChanged is published on every connection state change.
	EventStateChanged EventKind = iota
	// EventConnected is published when a handshake completes.
	EventConnected
	// EventDisconnected is published when the port is released.
	EventDisconnected
	// EventLinkLost is published when the connection fails on its own.
	EventLinkLost
	// EventToolCompleted is published when a tool operation finishes.
	EventToolCompleted
	// EventMonitorStarted is published when the monitor takes the port.
	EventMonitorStarted
	// EventMonitorStopped is published when the monitor returns the port.
	EventMonitorStopped
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventLinkLost:
		return "link-lost"
	case EventToolCompleted:
		return "tool-completed"
	case EventMonitorStarted:
		return "monitor-started"
	case EventMonitorStopped:
		return "monitor-stopped"
	default:
		return "unknown"
	}
}

// Event is a notification published by a Connection.
type Event struct {
	Kind EventKind
	Time time.Time
	// State is the connection state after the event.
	State ConnState
	// PrevState is set for EventStateChanged.
	PrevState ConnState
	// Op names the tool operation for EventToolCompleted.
	Op string
	// Err is the outcome of the operation or the cause of a link loss.
	Err error
}

// eventBus fans events out to subscribers without ever blocking the engine.
type eventBus struct {
	subs    *xsync.MapOf[uint64, *subscriber]
	nextID  atomic.Uint64
	buffer  int
	dropped func()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// offer delivers ev unless the channel is full or closed.
func (s *subscriber) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func newEventBus(buffer int, dropped func()) *eventBus {
	return &eventBus{
		subs:    xsync.NewMapOf[uint64, *subscriber](),
		buffer:  buffer,
		dropped: dropped,
	}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	id := b.nextID.Add(1)
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	b.subs.Store(id, sub)

	return sub.ch, func() {
		if sub, ok := b.subs.LoadAndDelete(id); ok {
			sub.close()
		}
	}
}

func (b *eventBus) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.subs.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.offer(ev) && b.dropped != nil {
			b.dropped()
		}

		return true
	})
}
