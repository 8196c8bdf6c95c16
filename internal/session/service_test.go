package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-session-server/internal/game"
	"game-session-server/internal/model"
	"game-session-server/internal/repository"
	"game-session-server/internal/validation"
)

// fakeStore is an in-memory implementation of the store interfaces and
// the ledger, mirroring the repository sentinel-error contracts.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]bool
	sessions map[string]*model.GameSession // by token
	cps      map[string][]*model.Checkpoint
	orphans  map[string][]*model.Checkpoint
	results  map[string]*model.GameResult // by session id
	awards   []*model.RewardTransaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]bool),
		sessions: make(map[string]*model.GameSession),
		cps:      make(map[string][]*model.Checkpoint),
		orphans:  make(map[string][]*model.Checkpoint),
		results:  make(map[string]*model.GameResult),
	}
}

func (f *fakeStore) Exists(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeStore) Create(_ context.Context, s *model.GameSession) (*model.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.sessions[s.SessionToken] = &copied
	return &copied, nil
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*model.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[token]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, repository.ErrSessionNotFound
}

func (f *fakeStore) FindRecent(_ context.Context, userID int64, gameID string, since time.Time) (*model.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.GameSession
	for _, s := range f.sessions {
		if s.UserID != userID || s.GameID != gameID || s.StartedAt.Before(since) {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrSessionNotFound
	}
	copied := *best
	return &copied, nil
}

func (f *fakeStore) SetState(_ context.Context, token, state string, endedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.State = state
	if endedAt != nil {
		s.EndedAt = endedAt
	}
	return nil
}

func (f *fakeStore) Append(_ context.Context, cp *model.Checkpoint) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cp
	f.cps[cp.SessionID] = append(f.cps[cp.SessionID], &copied)
	return &copied, nil
}

func (f *fakeStore) ListBySession(_ context.Context, sessionID string) ([]*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Checkpoint(nil), f.cps[sessionID]...), nil
}

func (f *fakeStore) LastBySession(_ context.Context, sessionID string) (*model.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.cps[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	best := list[0]
	for _, cp := range list[1:] {
		if cp.GameTime > best.GameTime {
			best = cp
		}
	}
	return best, nil
}

func (f *fakeStore) AppendOrphan(_ context.Context, token string, cp *model.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cp
	f.orphans[token] = append(f.orphans[token], &copied)
	return nil
}

func (f *fakeStore) CreateResult(_ context.Context, res *model.GameResult) (*model.GameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.results[res.SessionID]; ok {
		return nil, repository.ErrResultExists
	}
	copied := *res
	copied.ID = int64(len(f.results) + 1)
	f.results[res.SessionID] = &copied
	return &copied, nil
}

func (f *fakeStore) GetBySessionID(_ context.Context, sessionID string) (*model.GameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.results[sessionID]; ok {
		copied := *res
		return &copied, nil
	}
	return nil, repository.ErrResultNotFound
}

func (f *fakeStore) RecordAward(_ context.Context, userID int64, sessionID string, xp int64, awardType string) (*model.RewardTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reward := &model.RewardTransaction{
		ID:        int64(len(f.awards) + 1),
		UserID:    userID,
		SessionID: sessionID,
		Amount:    xp,
		Type:      awardType,
	}
	f.awards = append(f.awards, reward)
	return reward, nil
}

// resultStore adapts fakeStore's result methods to the ResultStore
// interface (Create has a name clash with SessionStore).
type resultStore struct{ *fakeStore }

func (r resultStore) Create(ctx context.Context, res *model.GameResult) (*model.GameResult, error) {
	return r.CreateResult(ctx, res)
}

const (
	testUser  = int64(101)
	testGame  = "gem-collector"
	xpRate    = 0.1
	maxRate   = 50.0
	varFloor  = 100.0
	emWindow  = 10 * time.Minute
	assumeDur = 3 * time.Minute
)

func newTestService(t *testing.T) (*Service, *fakeStore, *time.Time) {
	t.Helper()

	store := newFakeStore()
	store.users[testUser] = true

	catalog := game.NewCatalog(10)
	require.NoError(t, catalog.Register(game.Info{ID: testGame, Name: "Gem Collector", MaxScoreRate: maxRate}))

	svc := NewService(
		store, store, store, resultStore{store}, store,
		validation.NewEngine(varFloor),
		catalog,
		Config{EmergencyWindow: emWindow, AssumedDuration: assumeDur, XPPerPoint: xpRate},
	)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })
	return svc, store, &now
}

// checkpointAt builds a well-formed checkpoint relative to the session
// start, with jitter so the timing heuristic stays quiet.
func checkpointAt(observedAt, score int64, events ...string) *model.Checkpoint {
	nonce := fmt.Sprintf("n-%d", observedAt)
	return &model.Checkpoint{
		ObservedAt: observedAt,
		Score:      score,
		GameTime:   observedAt,
		Nonce:      nonce,
		Hash:       validation.ComputeCheckpointHash(observedAt, score, observedAt, nonce),
		Events:     events,
	}
}

func TestStartSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.2.0")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionToken)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, model.SessionStateActive, sess.State)
	assert.Len(t, store.sessions, 1)
}

func TestStartSessionUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Start(context.Background(), 999, testGame, "1.0")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

// TestStartSessionDoubleStart tests the documented stance: a second
// Active session for the same (user, game) is accepted.
func TestStartSessionDoubleStart(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)
	second, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionToken, second.SessionToken)
	assert.Len(t, store.sessions, 2)
}

func TestRecordCheckpoint(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	ack, err := svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(4800, 12))
	require.NoError(t, err)
	assert.True(t, ack.SessionValid)
	assert.False(t, ack.HoneypotDetected)
	assert.Len(t, store.cps[sess.SessionID], 1)
}

func TestRecordCheckpointHoneypot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	ack, err := svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(4800, 12, model.HoneypotDebugMode))
	require.NoError(t, err)
	assert.True(t, ack.HoneypotDetected)
}

// TestRecordCheckpointUnknownSession tests that checkpoints for unknown
// tokens are rejected but kept as forensic rows.
func TestRecordCheckpointUnknownSession(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.RecordCheckpoint(context.Background(), "no-such-token", checkpointAt(1000, 5))
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	assert.Len(t, store.orphans["no-such-token"], 1)
}

// TestRecordCheckpointAfterEnd tests that a late checkpoint is stored
// for forensics without touching the finalized result.
func TestRecordCheckpointAfterEnd(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	_, err = svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(4800, 12))
	require.NoError(t, err)

	outcome, err := svc.End(ctx, sess.SessionToken, 12, nil)
	require.NoError(t, err)
	finalXP := outcome.Result.XPEarned

	_, err = svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(9000, 400))
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	assert.Len(t, store.orphans[sess.SessionToken], 1)

	// The finalized result is untouched.
	res, err := store.GetBySessionID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, finalXP, res.XPEarned)
	assert.Equal(t, int64(12), res.FinalScore)
}

func TestEndSessionValidPlay(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	for _, cp := range []*model.Checkpoint{
		checkpointAt(4800, 12),
		checkpointAt(10100, 30),
		checkpointAt(15900, 44),
	} {
		_, err := svc.RecordCheckpoint(ctx, sess.SessionToken, cp)
		require.NoError(t, err)
	}

	outcome, err := svc.End(ctx, sess.SessionToken, 50, map[string]string{"client": "iframe"})
	require.NoError(t, err)
	assert.False(t, outcome.IsDuplicate)
	assert.True(t, outcome.Result.IsValid)
	assert.Empty(t, outcome.Result.InvalidReasons)
	assert.Equal(t, int64(5), outcome.Result.XPEarned) // floor(50 * 0.1)
	assert.Equal(t, int64(15900), outcome.Result.GameTime)

	// Session moved to Ended and one award was emitted.
	stored := store.sessions[sess.SessionToken]
	assert.Equal(t, model.SessionStateEnded, stored.State)
	require.Len(t, store.awards, 1)
	assert.Equal(t, int64(5), store.awards[0].Amount)
	assert.Equal(t, model.RewardTypeGame, store.awards[0].Type)
}

// TestEndSessionScoreDecreased covers the dropped-score flow: the
// session completes but is invalid and earns nothing.
func TestEndSessionScoreDecreased(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	_, err = svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(0, 10))
	require.NoError(t, err)
	_, err = svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(1000, 5))
	require.NoError(t, err)

	outcome, err := svc.End(ctx, sess.SessionToken, 50, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Result.IsValid)
	assert.Contains(t, outcome.Result.InvalidReasons, validation.ReasonScoreDecreased)
	assert.Zero(t, outcome.Result.XPEarned)
	assert.Empty(t, store.awards)
}

// TestEndSessionIdempotent tests that a repeated termination returns the
// stored result, flags the duplicate, and never awards twice.
func TestEndSessionIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	for _, cp := range []*model.Checkpoint{
		checkpointAt(4800, 12),
		checkpointAt(10100, 30),
		checkpointAt(15900, 44),
	} {
		_, err := svc.RecordCheckpoint(ctx, sess.SessionToken, cp)
		require.NoError(t, err)
	}

	first, err := svc.End(ctx, sess.SessionToken, 50, nil)
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)

	second, err := svc.End(ctx, sess.SessionToken, 50, nil)
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.Result.XPEarned, second.Result.XPEarned)
	assert.Len(t, store.awards, 1)
}

func TestEndSessionUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.End(context.Background(), "bogus", 10, nil)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

// TestReconcileClaimsRecentSession tests the emergency path attaching a
// result to a still-open session inside the trailing window.
func TestReconcileClaimsRecentSession(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)
	_, err = svc.RecordCheckpoint(ctx, sess.SessionToken, checkpointAt(4800, 12))
	require.NoError(t, err)

	// The page navigated away; five minutes later the emergency save
	// arrives without a token.
	*now = now.Add(5 * time.Minute)

	outcome, err := svc.Reconcile(ctx, testUser, testGame, 12, nil)
	require.NoError(t, err)
	assert.False(t, outcome.IsDuplicate)
	assert.False(t, outcome.Synthesized)
	assert.Equal(t, sess.SessionID, outcome.Result.SessionID)
	assert.Equal(t, model.SessionStateReconciled, store.sessions[sess.SessionToken].State)
	require.Len(t, store.awards, 1)
	assert.Equal(t, model.RewardTypeEmergency, store.awards[0].Type)
}

// TestReconcileNeverDoubleAwards tests that an emergency save after a
// normal termination returns the existing result without a new reward.
func TestReconcileNeverDoubleAwards(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)
	for _, cp := range []*model.Checkpoint{
		checkpointAt(4800, 12),
		checkpointAt(10100, 30),
		checkpointAt(15900, 44),
	} {
		_, err := svc.RecordCheckpoint(ctx, sess.SessionToken, cp)
		require.NoError(t, err)
	}

	first, err := svc.End(ctx, sess.SessionToken, 50, nil)
	require.NoError(t, err)
	require.Len(t, store.awards, 1)

	outcome, err := svc.Reconcile(ctx, testUser, testGame, 50, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsDuplicate)
	assert.Equal(t, first.Result.ID, outcome.Result.ID)
	assert.Len(t, store.awards, 1)
}

// TestReconcileSynthesizesSession tests the branch with no recent
// session: a minimal backdated record is created and tagged.
func TestReconcileSynthesizesSession(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	outcome, err := svc.Reconcile(ctx, testUser, testGame, 30, map[string]string{"client": "iframe"})
	require.NoError(t, err)
	assert.True(t, outcome.Synthesized)
	assert.False(t, outcome.IsDuplicate)
	assert.Equal(t, model.MetadataReasonEmergency, outcome.Result.Metadata["reason"])
	assert.Equal(t, "iframe", outcome.Result.Metadata["client"])

	// Backdated by the assumed duration, terminal state.
	var synth *model.GameSession
	for _, s := range store.sessions {
		synth = s
	}
	require.NotNil(t, synth)
	assert.Equal(t, model.SessionStateReconciled, synth.State)
	assert.Equal(t, now.Add(-assumeDur), synth.StartedAt)

	// 30 points over an assumed 3 minutes is well under the ceiling.
	assert.True(t, outcome.Result.IsValid)
	assert.Equal(t, int64(3), outcome.Result.XPEarned)
}

// TestReconcileIgnoresOldSessions tests the trailing window: a session
// older than the window is not claimable and a fresh one is synthesized.
func TestReconcileIgnoresOldSessions(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	old, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)

	*now = now.Add(emWindow + time.Minute)

	outcome, err := svc.Reconcile(ctx, testUser, testGame, 10, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Synthesized)
	assert.NotEqual(t, old.SessionID, outcome.Result.SessionID)
	assert.Len(t, store.sessions, 2)
}

func TestReconcileUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reconcile(context.Background(), 999, testGame, 10, nil)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

// TestEndSessionConcurrentTermination tests that racing terminations of
// one session produce exactly one award.
func TestEndSessionConcurrentTermination(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Start(ctx, testUser, testGame, "1.0")
	require.NoError(t, err)
	for _, cp := range []*model.Checkpoint{
		checkpointAt(4800, 12),
		checkpointAt(10100, 30),
		checkpointAt(15900, 44),
	} {
		_, err := svc.RecordCheckpoint(ctx, sess.SessionToken, cp)
		require.NoError(t, err)
	}

	const racers = 8
	var wg sync.WaitGroup
	duplicates := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.End(ctx, sess.SessionToken, 50, nil)
			if err == nil {
				duplicates <- outcome.IsDuplicate
			}
		}()
	}
	wg.Wait()
	close(duplicates)

	originals := 0
	for dup := range duplicates {
		if !dup {
			originals++
		}
	}
	assert.Equal(t, 1, originals)
	assert.Len(t, store.awards, 1)
}
