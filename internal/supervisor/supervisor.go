// Package supervisor owns the background maintenance loop: periodic
// replay-cache sweeps and stale-session scans. The loop is controlled
// through an explicit command channel so Start and Stop have
// deterministic semantics instead of relying on goroutine teardown
// ordering.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"game-session-server/internal/model"
)

// NonceSweeper evicts expired replay-cache entries.
type NonceSweeper interface {
	Sweep(now time.Time) int
}

// StaleSessionLister reports Active sessions idle past the cutoff.
type StaleSessionLister interface {
	ListStaleActive(ctx context.Context, cutoff time.Time, limit int) ([]*model.GameSession, error)
}

type command int

const (
	cmdStop command = iota
)

// Config tunes the maintenance loop.
type Config struct {
	// Interval between sweep passes.
	Interval time.Duration

	// StaleAfter is how long an Active session may sit without
	// termination before it is reported. Matches the emergency window:
	// anything older can no longer be claimed by reconciliation.
	StaleAfter time.Duration

	// ScanLimit caps sessions reported per pass.
	ScanLimit int
}

// Supervisor runs the maintenance loop.
type Supervisor struct {
	nonces   NonceSweeper
	sessions StaleSessionLister
	cfg      Config

	commands chan command
	done     chan struct{}
	now      func() time.Time
}

// New creates a supervisor. Either collaborator may be nil; the
// corresponding pass is skipped.
func New(nonces NonceSweeper, sessions StaleSessionLister, cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 100
	}
	return &Supervisor{
		nonces:   nonces,
		sessions: sessions,
		cfg:      cfg,
		commands: make(chan command),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// WithClock overrides the supervisor clock. Test hook.
func (s *Supervisor) WithClock(now func() time.Time) *Supervisor {
	s.now = now
	return s
}

// Start launches the loop. Call Stop to end it.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("Supervisor started")
}

// Stop ends the loop and blocks until the in-flight pass finishes.
func (s *Supervisor) Stop() {
	select {
	case s.commands <- cmdStop:
		<-s.done
	case <-s.done:
	}
	log.Info().Msg("Supervisor stopped")
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass(ctx)
		case cmd := <-s.commands:
			if cmd == cmdStop {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pass runs one maintenance iteration. Exported behavior is observable
// only through logs and cache state; failures never stop the loop.
func (s *Supervisor) pass(ctx context.Context) {
	now := s.now()

	if s.nonces != nil {
		if evicted := s.nonces.Sweep(now); evicted > 0 {
			log.Debug().Int("evicted", evicted).Msg("Swept replay cache")
		}
	}

	if s.sessions != nil && s.cfg.StaleAfter > 0 {
		cutoff := now.Add(-s.cfg.StaleAfter)
		stale, err := s.sessions.ListStaleActive(ctx, cutoff, s.cfg.ScanLimit)
		if err != nil {
			log.Error().Err(err).Msg("Stale session scan failed")
			return
		}
		for _, sess := range stale {
			log.Warn().
				Str("session_id", sess.SessionID).
				Int64("user_id", sess.UserID).
				Time("started_at", sess.StartedAt).
				Msg("Active session past reconciliation window")
		}
	}
}
