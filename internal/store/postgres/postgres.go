// Package postgres implements the store interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ScottyLabs/kennel/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool         *pgxpool.Pool
	secretboxKey string
}

// New constructs a Store. secretboxKey encrypts webhook secrets at rest; an
// empty key, config.Load's default for WEBHOOK_SECRET_ENCRYPTION_KEY, disables
// encryption and stores secrets as given.
func New(pool *pgxpool.Pool, secretboxKey string) *Store {
	return &Store{pool: pool, secretboxKey: secretboxKey}
}

var _ store.Store = (*Store)(nil)

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
