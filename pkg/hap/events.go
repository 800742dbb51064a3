package hap

import "sync"

const DefaultEventQueueSize = 64

type event struct {
	id    CharID
	value any
}

// eventQueue is bounded and never blocks the publisher. A newer value for
// queued characteristic replaces the old one in place. When the queue is
// full the oldest event is dropped.
type eventQueue struct {
	items  []event
	size   int
	signal chan struct{}
	mu     sync.Mutex
}

func newEventQueue(size int) *eventQueue {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	return &eventQueue{size: size, signal: make(chan struct{}, 1)}
}

// Push returns false when some event has been dropped
func (q *eventQueue) Push(id CharID, value any) bool {
	q.mu.Lock()

	ok := true
	replaced := false

	for i := range q.items {
		if q.items[i].id == id {
			q.items[i].value = value
			replaced = true
			break
		}
	}

	if !replaced {
		if len(q.items) >= q.size {
			q.items = q.items[1:]
			ok = false
		}
		q.items = append(q.items, event{id: id, value: value})
	}

	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return ok
}

// Pop takes all queued events
func (q *eventQueue) Pop() []event {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
