// Package validation implements the checkpoint validation engine: pure,
// deterministic functions that evaluate a session's checkpoint history
// for plausible play. No I/O, no retries; rerunning on the same input
// always yields the same verdict.
package validation

import (
	"fmt"
	"sort"

	"game-session-server/internal/model"
)

// Invalidity reasons. Rate and hash reasons carry a detail suffix; see
// the constructors below.
const (
	ReasonScoreDecreased       = "score-decreased"
	ReasonTimestampProgression = "invalid-timestamp-progression"
	ReasonGameTimeRegressed    = "game-time-regressed"
	ReasonTimingTooConsistent  = "timing-too-consistent"
	ReasonHoneypotDetected     = "honeypot-detected"
)

// ReasonInvalidHash tags a hash mismatch with the checkpoint's observed
// timestamp so the offending checkpoint can be located.
func ReasonInvalidHash(observedAt int64) string {
	return fmt.Sprintf("invalid-checkpoint-hash@%d", observedAt)
}

// ReasonScoreRateExceeded tags a rate violation with the computed rate in
// points per second.
func ReasonScoreRateExceeded(rate float64) string {
	return fmt.Sprintf("score-rate-exceeded:%.2f", rate)
}

// Verdict is the engine's output. A session is valid only when Reasons is
// empty.
type Verdict struct {
	IsValid bool
	Reasons []string
}

// minCheckpointsForTiming is the minimum history length before the
// timing-variance heuristic applies. Fewer samples say nothing about
// mechanical timing.
const minCheckpointsForTiming = 3

// Engine evaluates checkpoint histories. The variance floor is a tuning
// knob, not a protocol constant.
type Engine struct {
	timingVarianceFloor float64 // squared milliseconds
}

// NewEngine creates a validation engine with the given timing-variance
// floor.
func NewEngine(timingVarianceFloor float64) *Engine {
	return &Engine{timingVarianceFloor: timingVarianceFloor}
}

// Evaluate runs all checks over the checkpoint history plus the claimed
// final score and duration (milliseconds). Every check runs
// unconditionally and every violation is reported; nothing
// short-circuits. Checkpoints are re-ordered by observed_at first since
// server arrival order is not emission order.
func (e *Engine) Evaluate(checkpoints []*model.Checkpoint, finalScore, durationMS int64, maxScoreRate float64) Verdict {
	var reasons []string

	ordered := make([]*model.Checkpoint, len(checkpoints))
	copy(ordered, checkpoints)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ObservedAt < ordered[j].ObservedAt
	})

	reasons = append(reasons, checkHashes(ordered)...)
	reasons = append(reasons, checkScoreMonotonic(ordered)...)
	reasons = append(reasons, checkTimestampMonotonic(ordered)...)
	reasons = append(reasons, checkGameTimeMonotonic(ordered)...)
	reasons = append(reasons, e.checkTimingPattern(ordered)...)
	reasons = append(reasons, checkScoreRate(finalScore, durationMS, maxScoreRate)...)
	reasons = append(reasons, checkHoneypots(ordered)...)

	return Verdict{IsValid: len(reasons) == 0, Reasons: reasons}
}

// checkHashes recomputes each checkpoint's binding hash. A mismatch means
// some field was altered after the checkpoint was built.
func checkHashes(checkpoints []*model.Checkpoint) []string {
	var reasons []string
	for _, cp := range checkpoints {
		want := ComputeCheckpointHash(cp.ObservedAt, cp.Score, cp.GameTime, cp.Nonce)
		if cp.Hash != want {
			reasons = append(reasons, ReasonInvalidHash(cp.ObservedAt))
		}
	}
	return reasons
}

// checkScoreMonotonic verifies score never decreases between consecutive
// checkpoints. One reason is reported regardless of how many drops occur.
func checkScoreMonotonic(checkpoints []*model.Checkpoint) []string {
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i].Score < checkpoints[i-1].Score {
			return []string{ReasonScoreDecreased}
		}
	}
	return nil
}

// checkTimestampMonotonic verifies observed_at strictly increases.
func checkTimestampMonotonic(checkpoints []*model.Checkpoint) []string {
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i].ObservedAt <= checkpoints[i-1].ObservedAt {
			return []string{ReasonTimestampProgression}
		}
	}
	return nil
}

// checkGameTimeMonotonic verifies elapsed game time never decreases.
func checkGameTimeMonotonic(checkpoints []*model.Checkpoint) []string {
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i].GameTime < checkpoints[i-1].GameTime {
			return []string{ReasonGameTimeRegressed}
		}
	}
	return nil
}

// checkTimingPattern flags suspiciously mechanical checkpoint timing: a
// variance of inter-checkpoint intervals below the floor. Human-driven
// play over a real event loop jitters; a replay script often does not.
// This is a heuristic signal, not proof of tampering.
func (e *Engine) checkTimingPattern(checkpoints []*model.Checkpoint) []string {
	if len(checkpoints) < minCheckpointsForTiming {
		return nil
	}

	intervals := make([]float64, 0, len(checkpoints)-1)
	for i := 1; i < len(checkpoints); i++ {
		intervals = append(intervals, float64(checkpoints[i].ObservedAt-checkpoints[i-1].ObservedAt))
	}

	if intervalVariance(intervals) < e.timingVarianceFloor {
		return []string{ReasonTimingTooConsistent}
	}
	return nil
}

// intervalVariance computes the population variance of the intervals.
func intervalVariance(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))

	var sq float64
	for _, iv := range intervals {
		d := iv - mean
		sq += d * d
	}
	return sq / float64(len(intervals))
}

// checkScoreRate verifies the claimed final score against the per-game
// points-per-second ceiling. A non-positive duration with a positive
// score is an instant-score claim and always exceeds the ceiling.
func checkScoreRate(finalScore, durationMS int64, maxScoreRate float64) []string {
	if finalScore <= 0 {
		return nil
	}
	if durationMS <= 0 {
		return []string{ReasonScoreRateExceeded(float64(finalScore) * 1000)}
	}

	rate := float64(finalScore) / (float64(durationMS) / 1000.0)
	if rate > maxScoreRate {
		return []string{ReasonScoreRateExceeded(rate)}
	}
	return nil
}

// checkHoneypots scans every checkpoint's events for honeypot tags. One
// hit anywhere in the history is sufficient, independent of the numeric
// checks.
func checkHoneypots(checkpoints []*model.Checkpoint) []string {
	for _, cp := range checkpoints {
		for _, ev := range cp.Events {
			if model.IsHoneypotEvent(ev) {
				return []string{ReasonHoneypotDetected}
			}
		}
	}
	return nil
}

// ContainsHoneypot reports whether any of the event names is a honeypot
// tag. Used by checkpoint ingestion to surface the flag immediately.
func ContainsHoneypot(events []string) bool {
	for _, ev := range events {
		if model.IsHoneypotEvent(ev) {
			return true
		}
	}
	return false
}
