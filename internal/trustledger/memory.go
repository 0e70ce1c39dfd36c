package trustledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps the chain in process. It does not survive restarts.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger holding only the genesis entry.
func NewMemoryLedger() *MemoryLedger {
	now := func() time.Time { return time.Now().UTC() }
	return &MemoryLedger{entries: []*Entry{genesis(now())}, now: now}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, agentID string, action Action, actor string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{Timestamp: l.now(), AgentID: agentID, Action: action, Actor: actor}
	if err := link(e, l.entries[len(l.entries)-1], payload); err != nil {
		return nil, err
	}
	l.entries = append(l.entries, e)
	cp := *e
	return &cp, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, ErrNotFound
	}
	cp := *l.entries[index]
	return &cp, nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, agentID string) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Entry
	for _, e := range l.entries[1:] {
		if e.AgentID == agentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
