package rtc

import "sync"

// EventQueue turns callback-style notifications into a channel the owning
// session ranges over. Push never blocks, so pion callbacks are never held
// up by a slow consumer, and events keep their arrival order.
type EventQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	signal chan struct{}
	done   chan struct{}
	out    chan Event
}

// NewEventQueue creates a queue and starts its delivery loop. The loop exits
// after Close; Events() is closed at that point.
func NewEventQueue() *EventQueue {
	q := &EventQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event),
	}
	go q.loop()
	return q
}

// Push appends an event. Events pushed after Close are discarded.
func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. Undelivered events are dropped; the endpoint that
// produced them is closed and never reused. Safe to call multiple times.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Events returns the delivery channel.
func (q *EventQueue) Events() <-chan Event {
	return q.out
}

// loop is the single writer of out.
func (q *EventQueue) loop() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}
