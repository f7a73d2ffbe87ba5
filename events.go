package main

import (
	"sort"
	"sync"
)

// BuildEvent is passed to every listener of a published event until one of
// them stops propagation.
type BuildEvent[T any] struct {
	Data    T
	stopped bool
}

func (e *BuildEvent[T]) StopPropagation() {
	e.stopped = true
}

func (e *BuildEvent[T]) IsPropagationStopped() bool {
	return e.stopped
}

type BuildEventListener[T any] func(event *BuildEvent[T])

// EventType is a typed publish/subscribe channel. Listeners run
// synchronously, in subscription order, on the publishing goroutine.
type EventType[T any] struct {
	mu        sync.Mutex
	listeners map[uint64]BuildEventListener[T]
	nextID    uint64
}

func NewEventType[T any]() *EventType[T] {
	return &EventType[T]{listeners: map[uint64]BuildEventListener[T]{}}
}

// Subscribe adds listener and returns a function removing it.
func (e *EventType[T]) Subscribe(listener BuildEventListener[T]) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *EventType[T]) Publish(data T) {
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]BuildEventListener[T], 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.Unlock()

	event := &BuildEvent[T]{Data: data}
	for _, listener := range listeners {
		listener(event)
		if event.stopped {
			break
		}
	}
}

func (e *EventType[T]) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

type FileChange struct {
	Absolute string
	Relative string // Relative to the working directory, forward slashes
}

// BuildEvents connects the watcher, the pipeline modules and the socket
// server of one dev session.
type BuildEvents struct {
	FileChanged      *EventType[FileChange]
	LiveReload       *EventType[struct{}]
	WebSocketMessage *EventType[string]
}

func NewBuildEvents() *BuildEvents {
	return &BuildEvents{
		FileChanged:      NewEventType[FileChange](),
		LiveReload:       NewEventType[struct{}](),
		WebSocketMessage: NewEventType[string](),
	}
}
