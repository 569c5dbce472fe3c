package command

import (
	"sync"

	"cloudlink/internal/dashboard"
)

// pending correlates acknowledgement ids with waiting Execute calls. Whoever
// removes an entry owns its resolution, so each entry resolves at most once.
type pending struct {
	mu      sync.Mutex
	entries map[string]chan dashboard.CommandStatus
}

func newPending() *pending {
	return &pending{entries: map[string]chan dashboard.CommandStatus{}}
}

func (p *pending) register(id string) (<-chan dashboard.CommandStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[id]; exists {
		return nil, false
	}
	ch := make(chan dashboard.CommandStatus, 1)
	p.entries[id] = ch
	return ch, true
}

func (p *pending) resolve(status dashboard.CommandStatus) bool {
	p.mu.Lock()
	ch, ok := p.entries[status.ID]
	if ok {
		delete(p.entries, status.ID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- status
	return true
}

func (p *pending) remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return false
	}
	delete(p.entries, id)
	return true
}

func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
