package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"game-session-server/internal/model"
)

// PostgresLedger is the default Ledger implementation: it records the
// award transaction and credits the user's xp total in one database
// transaction.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgresLedger instance.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// RecordAward credits xp and writes the reward transaction atomically.
func (l *PostgresLedger) RecordAward(ctx context.Context, userID int64, sessionID string, xp int64, awardType string) (*model.RewardTransaction, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin award transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertQuery = `
		INSERT INTO reward_transactions (user_id, session_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, session_id, amount, type, created_at
	`

	var reward model.RewardTransaction
	err = tx.QueryRow(ctx, insertQuery, userID, sessionID, xp, awardType).Scan(
		&reward.ID,
		&reward.UserID,
		&reward.SessionID,
		&reward.Amount,
		&reward.Type,
		&reward.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record award: %w", err)
	}

	const creditQuery = `UPDATE users SET xp = xp + $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, creditQuery, userID, xp); err != nil {
		return nil, fmt.Errorf("failed to credit xp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit award: %w", err)
	}

	return &reward, nil
}

// GetByUser returns a user's award history, newest first.
func (l *PostgresLedger) GetByUser(ctx context.Context, userID int64, limit int) ([]*model.RewardTransaction, error) {
	const query = `
		SELECT id, user_id, session_id, amount, type, created_at
		FROM reward_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := l.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get awards: %w", err)
	}
	defer rows.Close()

	var rewards []*model.RewardTransaction
	for rows.Next() {
		var reward model.RewardTransaction
		err := rows.Scan(
			&reward.ID,
			&reward.UserID,
			&reward.SessionID,
			&reward.Amount,
			&reward.Type,
			&reward.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		rewards = append(rewards, &reward)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating awards: %w", err)
	}

	return rewards, nil
}
