package ws

import (
	"context"
	"sort"
	"sync"
)

// Presence tracks which users have at least one open connection.
// MarkOnline and MarkOffline report whether the user crossed the
// offline/online boundary.
type Presence interface {
	MarkOnline(ctx context.Context, userID string) (bool, error)
	MarkOffline(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
	Reset(ctx context.Context) error
}

// MemoryPresence process-local reference counted presence
type MemoryPresence struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewMemoryPresence creates an empty MemoryPresence
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{counts: make(map[string]int)}
}

func (p *MemoryPresence) MarkOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1, nil
}

func (p *MemoryPresence) MarkOffline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true, nil
	}
	p.counts[userID] = n - 1
	return false, nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[userID] > 0, nil
}

func (p *MemoryPresence) Online(_ context.Context) ([]string, error) {
	p.mu.RLock()
	ids := make([]string, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (p *MemoryPresence) Reset(_ context.Context) error {
	p.mu.Lock()
	p.counts = make(map[string]int)
	p.mu.Unlock()
	return nil
}
