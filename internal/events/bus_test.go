package events_test

import (
	"testing"

	"go-config-runner/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := events.NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(events.Event{Type: events.HitFound, JobID: "j1"})

	ea := <-a
	eb := <-b
	assert.Equal(t, events.HitFound, ea.Type)
	assert.Equal(t, "j1", eb.JobID)
	assert.False(t, ea.Time.IsZero())

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	bus.Publish(events.Event{Type: events.Metrics})
	require.Len(t, b, 1)
}

func TestBusNeverBlocks(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(events.Event{Type: events.Metrics})
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, int64(9), bus.Dropped())
}
