// Package session implements the server-side game session lifecycle:
// start, checkpoint ingestion, termination with reward conversion, and
// emergency reconciliation when the termination handshake was lost.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"game-session-server/internal/game"
	"game-session-server/internal/ledger"
	"game-session-server/internal/message"
	"game-session-server/internal/model"
	"game-session-server/internal/pkg/lock"
	"game-session-server/internal/repository"
	"game-session-server/internal/validation"
)

// Store interfaces cover exactly what the lifecycle needs; the pgx
// repositories satisfy them, and tests substitute in-memory fakes.

// UserStore resolves player identities.
type UserStore interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

// SessionStore persists session rows.
type SessionStore interface {
	Create(ctx context.Context, s *model.GameSession) (*model.GameSession, error)
	GetByToken(ctx context.Context, token string) (*model.GameSession, error)
	FindRecent(ctx context.Context, userID int64, gameID string, since time.Time) (*model.GameSession, error)
	SetState(ctx context.Context, token, state string, endedAt *time.Time) error
}

// CheckpointStore persists checkpoint rows.
type CheckpointStore interface {
	Append(ctx context.Context, cp *model.Checkpoint) (*model.Checkpoint, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.Checkpoint, error)
	LastBySession(ctx context.Context, sessionID string) (*model.Checkpoint, error)
	AppendOrphan(ctx context.Context, sessionToken string, cp *model.Checkpoint) error
}

// ResultStore persists game results.
type ResultStore interface {
	Create(ctx context.Context, res *model.GameResult) (*model.GameResult, error)
	GetBySessionID(ctx context.Context, sessionID string) (*model.GameResult, error)
}

// Config holds the lifecycle tuning knobs.
type Config struct {
	// EmergencyWindow is how far back reconciliation looks for a
	// session to claim.
	EmergencyWindow time.Duration

	// AssumedDuration is the backdating applied to synthesized sessions
	// when no recent session exists.
	AssumedDuration time.Duration

	// XPPerPoint is the fixed score-to-experience conversion rate.
	XPPerPoint float64
}

// CheckpointAck reports the outcome of one checkpoint ingestion.
type CheckpointAck struct {
	SessionValid     bool
	HoneypotDetected bool
}

// Outcome is the result of a termination or reconciliation call.
type Outcome struct {
	Result      *model.GameResult
	IsDuplicate bool
	Synthesized bool // emergency path created the session record
}

// Service drives the session state machine. All methods are safe for
// concurrent use; award-emitting paths additionally serialize per user.
type Service struct {
	users       UserStore
	sessions    SessionStore
	checkpoints CheckpointStore
	results     ResultStore
	ledger      ledger.Ledger
	engine      *validation.Engine
	catalog     *game.Catalog
	locks       *lock.UserLock
	cfg         Config
	now         func() time.Time
}

// NewService creates a session lifecycle service.
func NewService(
	users UserStore,
	sessions SessionStore,
	checkpoints CheckpointStore,
	results ResultStore,
	rewardLedger ledger.Ledger,
	engine *validation.Engine,
	catalog *game.Catalog,
	cfg Config,
) *Service {
	return &Service{
		users:       users,
		sessions:    sessions,
		checkpoints: checkpoints,
		results:     results,
		ledger:      rewardLedger,
		engine:      engine,
		catalog:     catalog,
		locks:       lock.NewUserLock(),
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start creates a new Active session for the user and game. The caller
// gets back both the capability token and the display id. Double-starts
// for the same (user, game) are accepted; reward issuance is guarded
// per-session, not per-pair.
func (s *Service) Start(ctx context.Context, userID int64, gameID, gameVersion string) (*model.GameSession, error) {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if !exists {
		return nil, repository.ErrUserNotFound
	}

	token, err := message.NewSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &model.GameSession{
		SessionToken: token,
		SessionID:    newSessionID(gameID),
		UserID:       userID,
		GameID:       gameID,
		GameVersion:  gameVersion,
		State:        model.SessionStateActive,
		StartedAt:    now,
	}

	created, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", created.SessionID).
		Int64("user_id", userID).
		Str("game_id", gameID).
		Str("game_version", gameVersion).
		Msg("Session started")

	return created, nil
}

// RecordCheckpoint appends a checkpoint to an Active session and reports
// whether this checkpoint carried a honeypot tag. Checkpoints for
// unknown or inactive sessions are kept as forensic rows and rejected
// with ErrSessionNotFound; they are never scored.
func (s *Service) RecordCheckpoint(ctx context.Context, token string, cp *model.Checkpoint) (*CheckpointAck, error) {
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.recordOrphan(ctx, token, cp)
			return nil, repository.ErrSessionNotFound
		}
		return nil, err
	}

	if !sess.IsActive() {
		// Late arrival after termination: stored, flagged, and without
		// effect on the already-finalized result.
		s.recordOrphan(ctx, token, cp)
		return nil, repository.ErrSessionNotFound
	}

	cp.SessionID = sess.SessionID
	if _, err := s.checkpoints.Append(ctx, cp); err != nil {
		return nil, err
	}

	honeypot := validation.ContainsHoneypot(cp.Events)
	if honeypot {
		log.Warn().
			Str("session_id", sess.SessionID).
			Int64("user_id", sess.UserID).
			Strs("events", cp.Events).
			Msg("Honeypot event in checkpoint")
	}

	return &CheckpointAck{SessionValid: true, HoneypotDetected: honeypot}, nil
}

func (s *Service) recordOrphan(ctx context.Context, token string, cp *model.Checkpoint) {
	if err := s.checkpoints.AppendOrphan(ctx, token, cp); err != nil {
		log.Error().Err(err).Msg("Failed to record forensic checkpoint")
	}
}

// End closes a session and produces its GameResult. Idempotent: a second
// call returns the stored result flagged as duplicate and never awards
// twice. The validation verdict is computed over the checkpoint history
// that is durable at call time.
func (s *Service) End(ctx context.Context, token string, finalScore int64, metadata map[string]string) (*Outcome, error) {
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var outcome *Outcome
	lockErr := s.locks.WithLock(sess.UserID, func() error {
		var err error
		outcome, err = s.finalize(ctx, sess, finalScore, metadata, model.SessionStateEnded, model.RewardTypeGame)
		return err
	})
	if lockErr != nil {
		return nil, lockErr
	}
	return outcome, nil
}

// finalize records the result for a session if none exists yet, moves
// the session to its terminal state, and emits the award. Callers must
// hold the user's lock.
func (s *Service) finalize(ctx context.Context, sess *model.GameSession, finalScore int64, metadata map[string]string, terminalState, awardType string) (*Outcome, error) {
	existing, err := s.results.GetBySessionID(ctx, sess.SessionID)
	if err == nil {
		return &Outcome{Result: existing, IsDuplicate: true}, nil
	}
	if !errors.Is(err, repository.ErrResultNotFound) {
		return nil, err
	}

	history, err := s.checkpoints.ListBySession(ctx, sess.SessionID)
	if err != nil {
		return nil, err
	}

	// Elapsed game time comes from the last durable checkpoint; a
	// session that never checkpointed falls back to wall-clock age.
	var gameTime int64
	if last, err := s.checkpoints.LastBySession(ctx, sess.SessionID); err != nil {
		return nil, err
	} else if last != nil {
		gameTime = last.GameTime
	} else {
		gameTime = s.now().Sub(sess.StartedAt).Milliseconds()
	}

	limits := s.catalog.Limits(sess.GameID)
	verdict := s.engine.Evaluate(history, finalScore, gameTime, limits.MaxScoreRate)

	var xp int64
	if verdict.IsValid {
		xp = int64(math.Floor(float64(finalScore) * s.cfg.XPPerPoint))
	}

	result := &model.GameResult{
		SessionID:      sess.SessionID,
		UserID:         sess.UserID,
		GameID:         sess.GameID,
		FinalScore:     finalScore,
		GameTime:       gameTime,
		IsValid:        verdict.IsValid,
		InvalidReasons: verdict.Reasons,
		XPEarned:       xp,
		Metadata:       metadata,
	}

	stored, err := s.results.Create(ctx, result)
	if errors.Is(err, repository.ErrResultExists) {
		// Lost the insert race; return the winner's row.
		winner, err := s.results.GetBySessionID(ctx, sess.SessionID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: winner, IsDuplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	endedAt := s.now()
	if err := s.sessions.SetState(ctx, sess.SessionToken, terminalState, &endedAt); err != nil {
		// The session row may already be inactive; the result is the
		// artifact that matters and it is recorded exactly once.
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("Failed to mark session terminal")
	}

	if xp > 0 {
		if _, err := s.ledger.RecordAward(ctx, sess.UserID, sess.SessionID, xp, awardType); err != nil {
			// Result row exists, award did not land: detectable by
			// comparing game_results against reward_transactions.
			log.Error().Err(err).
				Str("session_id", sess.SessionID).
				Int64("xp", xp).
				Msg("Failed to record xp award")
		}
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Int64("final_score", finalScore).
		Bool("is_valid", verdict.IsValid).
		Strs("reasons", verdict.Reasons).
		Int64("xp_earned", xp).
		Msg("Session finalized")

	return &Outcome{Result: stored}, nil
}

// Reconcile handles the degraded path where the termination handshake
// never arrived. It claims the most recent session for (user, game)
// inside the trailing window, or synthesizes a backdated one, and then
// finalizes exactly like End. Whatever branch runs, a result that
// already exists short-circuits any further award.
func (s *Service) Reconcile(ctx context.Context, userID int64, gameID string, finalScore int64, metadata map[string]string) (*Outcome, error) {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if !exists {
		return nil, repository.ErrUserNotFound
	}

	var outcome *Outcome
	lockErr := s.locks.WithLock(userID, func() error {
		var err error
		outcome, err = s.reconcileLocked(ctx, userID, gameID, finalScore, metadata)
		return err
	})
	if lockErr != nil {
		return nil, lockErr
	}
	return outcome, nil
}

func (s *Service) reconcileLocked(ctx context.Context, userID int64, gameID string, finalScore int64, metadata map[string]string) (*Outcome, error) {
	now := s.now()
	since := now.Add(-s.cfg.EmergencyWindow)

	sess, err := s.sessions.FindRecent(ctx, userID, gameID, since)
	switch {
	case err == nil:
		log.Info().
			Str("session_id", sess.SessionID).
			Int64("user_id", userID).
			Msg("Emergency save claiming recent session")
		return s.finalize(ctx, sess, finalScore, metadata, model.SessionStateReconciled, model.RewardTypeEmergency)

	case errors.Is(err, repository.ErrSessionNotFound):
		// No recent session at all: the start handshake was lost too.
		// Synthesize a minimal record backdated by the assumed duration
		// so the result has something to attach to.
		token, err := message.NewSessionToken()
		if err != nil {
			return nil, err
		}

		endedAt := now
		synth := &model.GameSession{
			SessionToken: token,
			SessionID:    newSessionID(gameID),
			UserID:       userID,
			GameID:       gameID,
			State:        model.SessionStateReconciled,
			StartedAt:    now.Add(-s.cfg.AssumedDuration),
			EndedAt:      &endedAt,
		}
		created, err := s.sessions.Create(ctx, synth)
		if err != nil {
			return nil, err
		}

		meta := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["reason"] = model.MetadataReasonEmergency

		log.Warn().
			Str("session_id", created.SessionID).
			Int64("user_id", userID).
			Str("game_id", gameID).
			Msg("Emergency save synthesized session")

		outcome, err := s.finalize(ctx, created, finalScore, meta, model.SessionStateReconciled, model.RewardTypeEmergency)
		if err != nil {
			return nil, err
		}
		outcome.Synthesized = true
		return outcome, nil

	default:
		return nil, err
	}
}

// newSessionID builds the human-readable display id for a session.
func newSessionID(gameID string) string {
	return fmt.Sprintf("%s-%s", gameID, uuid.NewString()[:8])
}
