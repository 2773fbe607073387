package emitter

import (
	"reflect"
	"sync"
	"testing"
)

// TestEmitOrder tests that listeners run in registration order
func TestEmitOrder(t *testing.T) {
	t.Parallel()

	var e Emitter[int]
	var got []string

	e.On("open", func(int) { got = append(got, "a") })
	e.On("open", func(int) { got = append(got, "b") })
	e.On("close", func(int) { got = append(got, "never") })
	e.On("open", func(int) { got = append(got, "c") })

	e.Emit("open", 1)

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

// TestOnceRemovesItself tests that once listeners fire a single time
func TestOnceRemovesItself(t *testing.T) {
	t.Parallel()

	var e Emitter[string]
	calls := 0
	e.Once("pong", func(string) { calls++ })

	e.Emit("pong", "x")
	e.Emit("pong", "y")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := e.Len("pong"); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

// TestOff tests listener removal
func TestOff(t *testing.T) {
	t.Parallel()

	var e Emitter[int]
	sum := 0
	id := e.On("n", func(v int) { sum += v })
	e.On("n", func(v int) { sum += 10 * v })

	e.Off("n", id)
	e.Off("n", 9999)
	e.Off("missing", id)
	e.Emit("n", 1)

	if sum != 10 {
		t.Errorf("sum = %d, want 10", sum)
	}
}

// TestListenerMayRegisterDuringEmit tests that emitting is re-entrant
func TestListenerMayRegisterDuringEmit(t *testing.T) {
	t.Parallel()

	var e Emitter[int]
	inner := 0
	e.On("x", func(int) {
		e.On("x", func(int) { inner++ })
	})

	e.Emit("x", 0)
	if inner != 0 {
		t.Errorf("listener added during emit ran in the same emit")
	}

	e.Emit("x", 0)
	if inner != 1 {
		t.Errorf("inner = %d, want 1", inner)
	}
}

// TestOnceConcurrentEmit tests that a once listener fires once under concurrent emits
func TestOnceConcurrentEmit(t *testing.T) {
	t.Parallel()

	var e Emitter[int]
	var mu sync.Mutex
	calls := 0
	e.Once("x", func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit("x", 0)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
