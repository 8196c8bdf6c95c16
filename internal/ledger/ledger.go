// Package ledger defines the external experience-points ledger
// collaborator. The session pipeline only emits awards; quest points,
// referral fan-out, and grant policy beyond the validity gate live behind
// this interface.
package ledger

import (
	"context"

	"game-session-server/internal/model"
)

// Ledger records experience awards. Implementations must be safe for
// concurrent use.
type Ledger interface {
	// RecordAward credits xp to a user for a session and returns the
	// recorded transaction. Exactly one call is made per logical play
	// attempt; the caller guards duplicates upstream.
	RecordAward(ctx context.Context, userID int64, sessionID string, xp int64, awardType string) (*model.RewardTransaction, error)
}
