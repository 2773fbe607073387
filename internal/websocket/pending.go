package websocket

import (
	"encoding/json"
	"sync"
)

type askResult struct {
	data json.RawMessage
	err  error
}

// pendingMap correlates outstanding asks with their replies.
//
// Ids are uint64, incremented before use and starting at 1. On wraparound the
// counter skips 0 and any id that is still outstanding.
type pendingMap struct {
	mu      sync.Mutex
	lastID  uint64
	entries map[uint64]chan askResult
}

func (p *pendingMap) add() (uint64, <-chan askResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entries == nil {
		p.entries = make(map[uint64]chan askResult)
	}
	for {
		p.lastID++
		if p.lastID == 0 {
			continue
		}
		if _, busy := p.entries[p.lastID]; !busy {
			break
		}
	}

	ch := make(chan askResult, 1)
	p.entries[p.lastID] = ch
	return p.lastID, ch
}

// settle delivers res to the ask waiting on id. It returns false when no
// such ask exists.
func (p *pendingMap) settle(id uint64, res askResult) bool {
	p.mu.Lock()
	ch, ok := p.entries[id]
	delete(p.entries, id)
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- res
	return true
}

func (p *pendingMap) remove(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[id]
	delete(p.entries, id)
	return ok
}

// rejectAll fails every outstanding ask with err and returns how many there were.
func (p *pendingMap) rejectAll(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- askResult{err: err}
	}
	return len(entries)
}

func (p *pendingMap) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
