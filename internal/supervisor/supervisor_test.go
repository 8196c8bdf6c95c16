package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"game-session-server/internal/model"
)

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	evicts int
}

func (f *fakeSweeper) Sweep(time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.evicts
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLister struct {
	mu     sync.Mutex
	cutoff time.Time
	stale  []*model.GameSession
}

func (f *fakeLister) ListStaleActive(_ context.Context, cutoff time.Time, _ int) ([]*model.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	return f.stale, nil
}

func TestPassSweepsAndScans(t *testing.T) {
	sweeper := &fakeSweeper{evicts: 3}
	lister := &fakeLister{stale: []*model.GameSession{
		{SessionID: "gem-collector-old00001", UserID: 7, StartedAt: time.Now().Add(-time.Hour)},
	}}

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	sup := New(sweeper, lister, Config{Interval: time.Minute, StaleAfter: 10 * time.Minute, ScanLimit: 10}).
		WithClock(func() time.Time { return now })

	sup.pass(context.Background())

	assert.Equal(t, 1, sweeper.callCount())
	assert.Equal(t, now.Add(-10*time.Minute), lister.cutoff)
}

func TestPassSkipsNilCollaborators(t *testing.T) {
	sup := New(nil, nil, Config{Interval: time.Minute})
	// Must not panic.
	sup.pass(context.Background())
}

func TestStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	sup := New(sweeper, nil, Config{Interval: 5 * time.Millisecond})

	sup.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sup.Stop()

	after := sweeper.callCount()
	assert.Greater(t, after, 0)

	// No passes run once stopped.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, sweeper.callCount())
}

func TestStopIdempotentAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sup := New(&fakeSweeper{}, nil, Config{Interval: time.Hour})

	sup.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
