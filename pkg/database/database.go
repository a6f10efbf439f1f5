package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the schema. ON DELETE CASCADE on api_keys and
// usage_records makes group deletion atomic: the group, its keys and their
// records go in one statement or not at all.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			query_interval INT NOT NULL DEFAULT 3600,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			encrypted_secret TEXT NOT NULL,
			secret_hint TEXT NOT NULL,
			secret_sha TEXT NOT NULL UNIQUE,
			api_type TEXT NOT NULL CHECK (api_type IN ('standard', 'pro')),
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_check TIMESTAMPTZ,
			billing_start_time TIMESTAMPTZ,
			billing_end_time TIMESTAMPTZ,
			CHECK (billing_end_time IS NULL OR billing_start_time IS NULL
				OR billing_end_time > billing_start_time)
		);`,

		// Append-only usage samples
		`CREATE TABLE IF NOT EXISTS usage_records (
			id BIGSERIAL PRIMARY KEY,
			api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
			check_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			character_count BIGINT NOT NULL,
			character_limit BIGINT NOT NULL,
			api_key_character_count BIGINT,
			api_key_character_limit BIGINT
		);`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_group ON api_keys (group_id);`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_key_time ON usage_records (api_key_id, check_time DESC);`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}

	return nil
}
