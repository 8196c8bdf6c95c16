package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-server/internal/model"
)

// SessionRepository handles game session persistence. Sessions are
// append-and-update only; nothing deletes them.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `session_token, session_id, user_id, game_id, game_version, state, started_at, ended_at`

func scanSession(row pgx.Row) (*model.GameSession, error) {
	var s model.GameSession
	err := row.Scan(
		&s.SessionToken,
		&s.SessionID,
		&s.UserID,
		&s.GameID,
		&s.GameVersion,
		&s.State,
		&s.StartedAt,
		&s.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *model.GameSession) (*model.GameSession, error) {
	const query = `
		INSERT INTO game_sessions (session_token, session_id, user_id, game_id, game_version, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns

	created, err := scanSession(r.pool.QueryRow(ctx, query,
		s.SessionToken, s.SessionID, s.UserID, s.GameID, s.GameVersion, s.State, s.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetByToken retrieves a session by its capability token.
// Returns ErrSessionNotFound if the token does not resolve.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*model.GameSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM game_sessions WHERE session_token = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetBySessionID retrieves a session by its display identifier.
func (r *SessionRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.GameSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM game_sessions WHERE session_id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// FindRecent returns the most recently started session for (user, game)
// started at or after the cutoff, regardless of state. Used by the
// emergency reconciliation path.
func (r *SessionRepository) FindRecent(ctx context.Context, userID int64, gameID string, since time.Time) (*model.GameSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM game_sessions
		WHERE user_id = $1 AND game_id = $2 AND started_at >= $3
		ORDER BY started_at DESC
		LIMIT 1
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, userID, gameID, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find recent session: %w", err)
	}
	return s, nil
}

// SetState transitions a session to the given state and stamps ended_at
// for terminal states.
func (r *SessionRepository) SetState(ctx context.Context, token, state string, endedAt *time.Time) error {
	const query = `
		UPDATE game_sessions
		SET state = $2, ended_at = COALESCE($3, ended_at)
		WHERE session_token = $1
	`

	result, err := r.pool.Exec(ctx, query, token, state, endedAt)
	if err != nil {
		return fmt.Errorf("failed to set session state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListStaleActive returns active sessions started before the cutoff.
// Used by the supervisor's stale-session scan.
func (r *SessionRepository) ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]*model.GameSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM game_sessions
		WHERE state = 'active' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.GameSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// ListByUser returns a user's sessions, newest first. Audit read path.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.GameSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM game_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.GameSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}
