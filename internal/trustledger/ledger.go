package trustledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for an index past the chain tip.
var ErrNotFound = errors.New("ledger entry not found")

// Ledger is the append-only kill-switch audit trail.
// *MemoryLedger and *PostgresLedger implement it.
type Ledger interface {
	// Append chains a new entry after the current tip. payload is JSON
	// encoded and only its digest is stored.
	Append(ctx context.Context, agentID string, action Action, actor string, payload any) (*Entry, error)

	// Get returns the entry at a zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// History returns the entries recorded for one agent, oldest first.
	History(ctx context.Context, agentID string) ([]*Entry, error)

	// Len counts entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil when it is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}
