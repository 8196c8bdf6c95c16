package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-server/internal/model"
)

// CheckpointRepository handles checkpoint persistence. Checkpoints are
// append-only; rows are never updated.
type CheckpointRepository struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepository creates a new CheckpointRepository instance.
func NewCheckpointRepository(pool *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{pool: pool}
}

// Append stores a checkpoint for a session.
func (r *CheckpointRepository) Append(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
	const query = `
		INSERT INTO checkpoints (session_id, observed_at, score, game_time, nonce, hash, events, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, session_id, observed_at, score, game_time, nonce, hash, events, received_at
	`

	stored, err := scanCheckpoint(r.pool.QueryRow(ctx, query,
		cp.SessionID, cp.ObservedAt, cp.Score, cp.GameTime, cp.Nonce, cp.Hash, cp.Events))
	if err != nil {
		return nil, fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return stored, nil
}

// ListBySession returns all checkpoints for a session in arrival order.
// The validator re-orders by observed_at itself.
func (r *CheckpointRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.Checkpoint, error) {
	const query = `
		SELECT id, session_id, observed_at, score, game_time, nonce, hash, events, received_at
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY received_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

// LastBySession returns the most recent checkpoint by sender game time,
// or nil if the session has none. Termination reads it for the elapsed
// game time.
func (r *CheckpointRepository) LastBySession(ctx context.Context, sessionID string) (*model.Checkpoint, error) {
	const query = `
		SELECT id, session_id, observed_at, score, game_time, nonce, hash, events, received_at
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY game_time DESC, id DESC
		LIMIT 1
	`

	cp, err := scanCheckpoint(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last checkpoint: %w", err)
	}
	return cp, nil
}

// AppendOrphan stores a checkpoint that arrived for an unknown or
// inactive session. These rows are forensic only and never scored.
func (r *CheckpointRepository) AppendOrphan(ctx context.Context, sessionToken string, cp *model.Checkpoint) error {
	const query = `
		INSERT INTO orphan_checkpoints (session_token, observed_at, score, game_time, nonce, hash, events, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err := r.pool.Exec(ctx, query,
		sessionToken, cp.ObservedAt, cp.Score, cp.GameTime, cp.Nonce, cp.Hash, cp.Events)
	if err != nil {
		return fmt.Errorf("failed to append orphan checkpoint: %w", err)
	}
	return nil
}

// CountOrphans returns the number of forensic checkpoint rows recorded
// for a session token.
func (r *CheckpointRepository) CountOrphans(ctx context.Context, sessionToken string) (int64, error) {
	const query = `SELECT COUNT(*) FROM orphan_checkpoints WHERE session_token = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, sessionToken).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orphan checkpoints: %w", err)
	}
	return count, nil
}

func scanCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := row.Scan(
		&cp.ID,
		&cp.SessionID,
		&cp.ObservedAt,
		&cp.Score,
		&cp.GameTime,
		&cp.Nonce,
		&cp.Hash,
		&cp.Events,
		&cp.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
