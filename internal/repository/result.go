package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-server/internal/model"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// ResultRepository handles game result persistence. The session_id
// unique constraint is the durable guard behind result idempotency:
// however the race goes, only one insert wins.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository instance.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Create inserts the result for a session. Returns ErrResultExists if a
// result was already recorded, so callers can fetch and return the
// existing row instead of awarding twice.
func (r *ResultRepository) Create(ctx context.Context, res *model.GameResult) (*model.GameResult, error) {
	meta, err := json.Marshal(metadataOrEmpty(res.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result metadata: %w", err)
	}

	const query = `
		INSERT INTO game_results (session_id, user_id, game_id, final_score, game_time, is_valid, invalid_reasons, xp_earned, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, session_id, user_id, game_id, final_score, game_time, is_valid, invalid_reasons, xp_earned, metadata, created_at
	`

	stored, err := scanResult(r.pool.QueryRow(ctx, query,
		res.SessionID, res.UserID, res.GameID, res.FinalScore, res.GameTime,
		res.IsValid, reasonsOrEmpty(res.InvalidReasons), res.XPEarned, meta))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrResultExists
		}
		return nil, fmt.Errorf("failed to create result: %w", err)
	}
	return stored, nil
}

// GetBySessionID retrieves the result for a session.
// Returns ErrResultNotFound if no result exists yet.
func (r *ResultRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.GameResult, error) {
	const query = `
		SELECT id, session_id, user_id, game_id, final_score, game_time, is_valid, invalid_reasons, xp_earned, metadata, created_at
		FROM game_results
		WHERE session_id = $1
	`

	res, err := scanResult(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// ListByUser returns a user's results, newest first. Audit read path.
func (r *ResultRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.GameResult, error) {
	const query = `
		SELECT id, session_id, user_id, game_id, final_score, game_time, is_valid, invalid_reasons, xp_earned, metadata, created_at
		FROM game_results
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*model.GameResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

func scanResult(row pgx.Row) (*model.GameResult, error) {
	var res model.GameResult
	var meta []byte
	err := row.Scan(
		&res.ID,
		&res.SessionID,
		&res.UserID,
		&res.GameID,
		&res.FinalScore,
		&res.GameTime,
		&res.IsValid,
		&res.InvalidReasons,
		&res.XPEarned,
		&meta,
		&res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &res.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result metadata: %w", err)
	}
	return &res, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func reasonsOrEmpty(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}
