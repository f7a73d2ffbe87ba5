package main

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestEventPublishOrder(t *testing.T) {
	event := NewEventType[string]()
	received := []string{}
	event.Subscribe(func(e *BuildEvent[string]) { received = append(received, "first:"+e.Data) })
	event.Subscribe(func(e *BuildEvent[string]) { received = append(received, "second:"+e.Data) })

	event.Publish("a")

	assert.DeepEqual(t, received, []string{"first:a", "second:a"})
}

func TestEventStopPropagation(t *testing.T) {
	event := NewEventType[int]()
	calls := 0
	event.Subscribe(func(e *BuildEvent[int]) {
		calls++
		e.StopPropagation()
	})
	event.Subscribe(func(e *BuildEvent[int]) { calls++ })

	event.Publish(1)

	assert.Equal(t, calls, 1)
}

func TestEventUnsubscribe(t *testing.T) {
	event := NewEventType[struct{}]()
	calls := 0
	unsubscribe := event.Subscribe(func(e *BuildEvent[struct{}]) { calls++ })
	assert.Equal(t, event.ListenerCount(), 1)

	unsubscribe()
	unsubscribe()
	event.Publish(struct{}{})

	assert.Equal(t, calls, 0)
	assert.Equal(t, event.ListenerCount(), 0)
}

func TestEventSubscribeDuringPublish(t *testing.T) {
	event := NewEventType[string]()
	calls := 0
	event.Subscribe(func(e *BuildEvent[string]) {
		event.Subscribe(func(e *BuildEvent[string]) { calls++ })
	})

	event.Publish("x")
	assert.Equal(t, calls, 0)

	event.Publish("y")
	assert.Equal(t, calls, 1)
}
