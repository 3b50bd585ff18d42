package wschain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleListener(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var results []int

	emitter.On(EventOpen, func(data int) {
		results = append(results, data)
	})

	emitter.Emit(EventOpen, 42)

	assert.Equal(t, []int{42}, results)
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var results []int

	emitter.On(EventClose, func(data int) { results = append(results, data) })
	emitter.On(EventClose, func(data int) { results = append(results, data*2) })

	emitter.Emit(EventClose, 10)

	assert.Equal(t, []int{10, 20}, results)
}

func TestNoListeners(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	assert.NotPanics(t, func() { emitter.Emit(EventError, 100) })
}

func TestMultipleEvents(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var opened, closed int

	emitter.On(EventOpen, func(data int) { opened = data })
	emitter.On(EventClose, func(data int) { closed = data })

	emitter.Emit(EventOpen, 5)
	emitter.Emit(EventClose, 15)

	assert.Equal(t, 5, opened)
	assert.Equal(t, 15, closed)
}

func TestOff(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var calls int

	off := emitter.On(EventClosing, func(int) { calls++ })
	emitter.Emit(EventClosing, 0)
	off()
	off()
	emitter.Emit(EventClosing, 0)

	assert.Equal(t, 1, calls)
}

func TestOffDuringEmit(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var calls []string

	var off func()
	off = emitter.On(EventClose, func(int) {
		calls = append(calls, "first")
		off()
	})
	emitter.On(EventClose, func(int) { calls = append(calls, "second") })

	emitter.Emit(EventClose, 0)
	emitter.Emit(EventClose, 0)

	assert.Equal(t, []string{"first", "second", "second"}, calls)
}

func TestClose(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var calls int
	emitter.On(EventOpen, func(int) { calls++ })

	emitter.Close()
	emitter.Emit(EventOpen, 0)

	assert.Zero(t, calls)
}

func TestConcurrent(t *testing.T) {
	emitter := NewEventEmitter[EventType, int]()
	var mu sync.Mutex
	var results []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emitter.On(EventOpen, func(data int) {
				mu.Lock()
				results = append(results, data+i)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			emitter.Emit(EventOpen, j)
		}(j)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, results, 100)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "open", EventOpen.String())
	assert.Equal(t, "closing", EventClosing.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
