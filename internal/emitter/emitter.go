// Package emitter is a small typed event emitter: named events, ordered
// listeners, once-listeners that remove themselves.
package emitter

import "sync"

// ListenerID identifies a registered listener.
type ListenerID uint64

type listener[T any] struct {
	id   ListenerID
	fn   func(T)
	once bool
}

// Emitter dispatches values of type T to listeners registered by event name.
// The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string][]listener[T]
}

// On registers fn for event and returns its id.
func (e *Emitter[T]) On(event string, fn func(T)) ListenerID {
	return e.add(event, fn, false)
}

// Once registers fn for the next emission of event only.
func (e *Emitter[T]) Once(event string, fn func(T)) ListenerID {
	return e.add(event, fn, true)
}

func (e *Emitter[T]) add(event string, fn func(T), once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string][]listener[T])
	}
	e.nextID++
	e.listeners[event] = append(e.listeners[event], listener[T]{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

// Off removes the listener id from event. Unknown ids are ignored.
func (e *Emitter[T]) Off(event string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remove(event, id)
}

func (e *Emitter[T]) remove(event string, id ListenerID) bool {
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every listener of event in registration order. Listeners run on
// the caller's goroutine against a snapshot, so they may register or remove
// listeners freely.
func (e *Emitter[T]) Emit(event string, v T) {
	e.mu.Lock()
	snapshot := append([]listener[T](nil), e.listeners[event]...)
	e.mu.Unlock()

	for _, l := range snapshot {
		if l.once {
			e.mu.Lock()
			removed := e.remove(event, l.id)
			e.mu.Unlock()
			if !removed {
				// another Emit already consumed it
				continue
			}
		}
		l.fn(v)
	}
}

// Len returns the number of listeners registered for event.
func (e *Emitter[T]) Len(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
