// Package model defines the data models for the game session server.
package model

import "time"

// User represents a player account known to the host application.
// Accounts are provisioned by the identity layer; this server only
// resolves them.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	XP        int64     `db:"xp"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Session states. A session is created Active, moves to Ended through the
// normal termination handshake, or to Reconciled through the emergency
// path when the handshake was lost.
const (
	SessionStateActive     = "active"
	SessionStateEnded      = "ended"
	SessionStateReconciled = "reconciled"
)

// GameSession represents one play attempt of a game by a user.
// Sessions are never deleted; they are retained for audit.
type GameSession struct {
	SessionToken string     `db:"session_token" json:"-"`       // opaque capability, never exposed
	SessionID    string     `db:"session_id" json:"session_id"` // display/log identifier
	UserID       int64      `db:"user_id" json:"user_id"`
	GameID       string     `db:"game_id" json:"game_id"`
	GameVersion  string     `db:"game_version" json:"game_version"`
	State        string     `db:"state" json:"state"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	EndedAt      *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// IsActive reports whether the session can still accept checkpoints.
func (s *GameSession) IsActive() bool {
	return s.State == SessionStateActive
}

// Checkpoint is a periodic self-authenticating snapshot of in-progress
// score and elapsed time sent by the embedded content. Checkpoints are
// append-only; ReceivedAt records server arrival order while ObservedAt
// carries the sender's wall clock.
type Checkpoint struct {
	ID         int64     `db:"id"`
	SessionID  string    `db:"session_id"`
	ObservedAt int64     `db:"observed_at"` // epoch ms, sender clock
	Score      int64     `db:"score"`
	GameTime   int64     `db:"game_time"` // elapsed ms, sender clock
	Nonce      string    `db:"nonce"`
	Hash       string    `db:"hash"`
	Events     []string  `db:"events"`
	ReceivedAt time.Time `db:"received_at"`
}

// GameResult is the terminal artifact of a session. At most one result
// exists per session; retries return the stored row.
type GameResult struct {
	ID             int64             `db:"id" json:"id"`
	SessionID      string            `db:"session_id" json:"session_id"`
	UserID         int64             `db:"user_id" json:"user_id"`
	GameID         string            `db:"game_id" json:"game_id"`
	FinalScore     int64             `db:"final_score" json:"final_score"`
	GameTime       int64             `db:"game_time" json:"game_time"`
	IsValid        bool              `db:"is_valid" json:"is_valid"`
	InvalidReasons []string          `db:"invalid_reasons" json:"invalid_reasons,omitempty"`
	XPEarned       int64             `db:"xp_earned" json:"xp_earned"`
	Metadata       map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// RewardTransaction records an experience award emitted to the ledger.
type RewardTransaction struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Amount    int64     `db:"amount" json:"amount"`
	Type      string    `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Reward transaction types for categorizing xp awards.
const (
	RewardTypeGame      = "game"      // normal end-session award
	RewardTypeEmergency = "emergency" // award issued through reconciliation
)

// MetadataReasonEmergency marks results attached to a synthesized session
// when no recent session could be found for an emergency save.
const MetadataReasonEmergency = "session-management-failure"

// Honeypot event names. The embedded content plants these on its own
// outgoing checkpoints at random; a client that strips or rewrites
// telemetry tends to strip them too. Any of these anywhere in a session's
// checkpoint history marks the session invalid.
const (
	HoneypotDebugMode      = "debug mode enabled"
	HoneypotSpeedHack      = "speed manipulation detected"
	HoneypotMemoryEditor   = "memory editor attached"
	HoneypotScoreOverride  = "score override invoked"
	HoneypotPausedSimClock = "simulation clock frozen"
)

// HoneypotEvents returns the closed vocabulary of honeypot event names.
func HoneypotEvents() []string {
	return []string{
		HoneypotDebugMode,
		HoneypotSpeedHack,
		HoneypotMemoryEditor,
		HoneypotScoreOverride,
		HoneypotPausedSimClock,
	}
}

// IsHoneypotEvent reports whether the event name is part of the honeypot
// vocabulary.
func IsHoneypotEvent(name string) bool {
	switch name {
	case HoneypotDebugMode, HoneypotSpeedHack, HoneypotMemoryEditor,
		HoneypotScoreOverride, HoneypotPausedSimClock:
		return true
	}
	return false
}
