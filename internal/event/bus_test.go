package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishFansOut(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	got := map[string]int{}

	bus.Subscribe(PlacementDispensed, func(e Event) {
		mu.Lock()
		got["a:"+e.PlacementID]++
		mu.Unlock()
	})
	bus.Subscribe(PlacementDispensed, func(e Event) {
		mu.Lock()
		got["b:"+e.PlacementID]++
		mu.Unlock()
	})

	bus.Publish(Event{Type: PlacementDispensed, PlacementID: "R1"})
	bus.Publish(Event{Type: TextStatus, Message: "no subscribers"})
	bus.Drain()

	assert.Equal(t, map[string]int{"a:R1": 1, "b:R1": 1}, got)
}

func TestBus_SubscribeSyncKeepsOrder(t *testing.T) {
	bus := NewBus()
	var order []string

	bus.SubscribeSync(RunStarted, func(e Event) { order = append(order, "start:"+e.RunID) })
	bus.SubscribeSync(PlacementDispensed, func(e Event) { order = append(order, e.PlacementID) })

	bus.Publish(Event{Type: RunStarted, RunID: "run-1"})
	for _, id := range []string{"C1", "R1", "R2"} {
		bus.Publish(Event{Type: PlacementDispensed, PlacementID: id})
	}

	// 同步处理器不需要 Drain
	assert.Equal(t, []string{"start:run-1", "C1", "R1", "R2"}, order)
}
