package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps API keys in the api_keys table (see migrations/).
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create generates a new active key and returns it with its plaintext.
// The plaintext is not recoverable afterwards.
func (s *PostgresStore) Create(ctx context.Context, name string) (*APIKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	k := &APIKey{
		ID:        uuid.New(),
		Key:       key,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	q := `
		INSERT INTO api_keys (id, key_hash, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, q, k.ID, Digest(key), k.Name, k.IsActive, k.CreatedAt); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

// Lookup retrieves a key by its plaintext value.
func (s *PostgresStore) Lookup(ctx context.Context, key string) (*APIKey, error) {
	q := `
		SELECT id, name, is_active, created_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1`

	var k APIKey
	err := s.db.QueryRow(ctx, q, Digest(key)).Scan(&k.ID, &k.Name, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return &k, nil
}

// TouchLastUsed records at as the key's last use. Concurrent updates are
// last-write-wins.
func (s *PostgresStore) TouchLastUsed(ctx context.Context, key string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE key_hash = $1`, Digest(key), at.UTC())
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks a key inactive.
func (s *PostgresStore) Deactivate(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE key_hash = $1`, Digest(key))
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
