package events

import "sync"

// ChannelEvent fans values out to registered channels. It backs the
// progress stream and notification feeds: producers call Notify from the
// tick loop, consumers register buffered channels and read at their own
// pace. Sends never block; a full listener channel misses that value.
type ChannelEvent[T any] struct {
	mu         sync.RWMutex
	listeners  map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       T
	hasLast    bool
}

// NewChannelEvent creates an event. When replayLast is true a new listener
// immediately receives the most recent value, so late subscribers (a UI
// attaching mid-session) start from the current state instead of waiting
// for the next tick.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		listeners:  make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers ch and returns a function that removes it again.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("events: listener channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = ch
	replay, hasReplay := e.last, e.replayLast && e.hasLast
	e.mu.Unlock()

	if hasReplay {
		select {
		case ch <- replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered listener without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		e.last = value
		e.hasLast = true
	}
	targets := make([]chan<- T, 0, len(e.listeners))
	for _, ch := range e.listeners {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	// Deliver outside the lock so a deregistration from a consumer
	// goroutine cannot deadlock against a send.
	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount reports the number of registered listeners.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
