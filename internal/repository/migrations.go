package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Statements are idempotent so the
// server can run them on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "users table",
			sql: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					xp BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			name: "game_sessions table",
			sql: `
				CREATE TABLE IF NOT EXISTS game_sessions (
					session_token VARCHAR(64) PRIMARY KEY,
					session_id VARCHAR(64) NOT NULL UNIQUE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					game_id VARCHAR(100) NOT NULL,
					game_version VARCHAR(50) NOT NULL DEFAULT '',
					state VARCHAR(20) NOT NULL DEFAULT 'active',
					started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					ended_at TIMESTAMPTZ
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_user_game_started
					ON game_sessions(user_id, game_id, started_at DESC);
			`,
		},
		{
			name: "checkpoints table",
			sql: `
				CREATE TABLE IF NOT EXISTS checkpoints (
					id BIGSERIAL PRIMARY KEY,
					session_id VARCHAR(64) NOT NULL REFERENCES game_sessions(session_id) ON DELETE CASCADE,
					observed_at BIGINT NOT NULL,
					score BIGINT NOT NULL,
					game_time BIGINT NOT NULL,
					nonce VARCHAR(64) NOT NULL,
					hash VARCHAR(64) NOT NULL,
					events TEXT[] NOT NULL DEFAULT '{}',
					received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_checkpoints_session
					ON checkpoints(session_id, received_at);
			`,
		},
		{
			name: "game_results table",
			sql: `
				CREATE TABLE IF NOT EXISTS game_results (
					id BIGSERIAL PRIMARY KEY,
					session_id VARCHAR(64) NOT NULL UNIQUE REFERENCES game_sessions(session_id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					game_id VARCHAR(100) NOT NULL,
					final_score BIGINT NOT NULL,
					game_time BIGINT NOT NULL,
					is_valid BOOLEAN NOT NULL,
					invalid_reasons TEXT[] NOT NULL DEFAULT '{}',
					xp_earned BIGINT NOT NULL,
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			name: "reward_transactions table",
			sql: `
				CREATE TABLE IF NOT EXISTS reward_transactions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					session_id VARCHAR(64) NOT NULL,
					amount BIGINT NOT NULL,
					type VARCHAR(50) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_rewards_user_time
					ON reward_transactions(user_id, created_at DESC);
			`,
		},
		{
			name: "orphan_checkpoints table",
			sql: `
				CREATE TABLE IF NOT EXISTS orphan_checkpoints (
					id BIGSERIAL PRIMARY KEY,
					session_token VARCHAR(64) NOT NULL,
					observed_at BIGINT NOT NULL,
					score BIGINT NOT NULL,
					game_time BIGINT NOT NULL,
					nonce VARCHAR(64) NOT NULL,
					hash VARCHAR(64) NOT NULL,
					events TEXT[] NOT NULL DEFAULT '{}',
					received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Info().Str("migration", m.name).Msg("Migration applied")
	}
	return nil
}
