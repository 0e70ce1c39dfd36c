package trustledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises Append across every process sharing the table.
const advisoryLockKey = int64(2_718_281_828)

const entryColumns = `idx, timestamp, agent_id, action, actor, data_hash, prev_hash, hash`

// PostgresLedger persists the chain in the trust_ledger table. The genesis
// row is written by migration 002.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger. The tail read and the insert share one
// transaction holding the advisory lock.
func (l *PostgresLedger) Append(ctx context.Context, agentID string, action Action, actor string, payload any) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM trust_ledger ORDER BY idx DESC LIMIT 1"))
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	e := &Entry{Timestamp: time.Now().UTC().Truncate(time.Microsecond), AgentID: agentID, Action: action, Actor: actor}
	if err := link(e, prev, payload); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trust_ledger (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Index, e.Timestamp, e.AgentID, string(e.Action), e.Actor, e.DataHash, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int("idx", e.Index),
		zap.String("action", string(e.Action)),
		zap.String("agent_id", e.AgentID),
	)
	return e, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM trust_ledger WHERE idx = $1", index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// History implements Ledger.
func (l *PostgresLedger) History(ctx context.Context, agentID string) ([]*Entry, error) {
	return l.query(ctx,
		"SELECT "+entryColumns+" FROM trust_ledger WHERE agent_id = $1 AND idx > 0 ORDER BY idx ASC", agentID)
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trust_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It loads the whole chain; cost is linear in its length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	entries, err := l.query(ctx, "SELECT "+entryColumns+" FROM trust_ledger ORDER BY idx ASC")
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("ledger is empty; genesis row missing")
	}
	return verifyChain(entries)
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM trust_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func (l *PostgresLedger) query(ctx context.Context, sql string, args ...any) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		action string
	)
	if err := row.Scan(&e.Index, &e.Timestamp, &e.AgentID, &action,
		&e.Actor, &e.DataHash, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.Action = Action(action)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}
