// Property-based tests for the checkpoint validation engine.
package validation

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"game-session-server/internal/model"
)

// TestHashDeterminismProperty tests that the checkpoint hash is a pure
// function of its four inputs.
func TestHashDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		observedAt := rapid.Int64Range(0, 1<<52).Draw(t, "observedAt")
		score := rapid.Int64Range(0, 1_000_000).Draw(t, "score")
		gameTime := rapid.Int64Range(0, 86_400_000).Draw(t, "gameTime")
		nonce := rapid.StringMatching(`[0-9a-f]{32}`).Draw(t, "nonce")

		a := ComputeCheckpointHash(observedAt, score, gameTime, nonce)
		b := ComputeCheckpointHash(observedAt, score, gameTime, nonce)
		if a != b {
			t.Fatalf("hash not deterministic: %s vs %s", a, b)
		}
		if len(a) != 64 {
			t.Fatalf("unexpected digest length %d", len(a))
		}
	})
}

// TestScoreMonotonicityProperty tests that for any checkpoint sequence
// sorted by observed_at, the engine reports score-decreased exactly when
// some later score is strictly below an earlier one.
func TestScoreMonotonicityProperty(t *testing.T) {
	engine := NewEngine(0) // variance floor 0 disables the timing heuristic

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 12).Draw(t, "count")
		scores := rapid.SliceOfN(rapid.Int64Range(0, 1000), n, n).Draw(t, "scores")

		hasDecrease := false
		for i := 1; i < n; i++ {
			if scores[i] < scores[i-1] {
				hasDecrease = true
			}
		}

		checkpoints := make([]*model.Checkpoint, 0, n)
		for i, score := range scores {
			observedAt := int64(i+1) * 1000
			nonce := fmt.Sprintf("n%d", i)
			checkpoints = append(checkpoints, &model.Checkpoint{
				ObservedAt: observedAt,
				Score:      score,
				GameTime:   observedAt,
				Nonce:      nonce,
				Hash:       ComputeCheckpointHash(observedAt, score, observedAt, nonce),
			})
		}

		verdict := engine.Evaluate(checkpoints, 0, int64(n)*1000, 1000)

		reported := false
		for _, r := range verdict.Reasons {
			if r == ReasonScoreDecreased {
				reported = true
			}
		}
		if reported != hasDecrease {
			t.Fatalf("scores %v: score-decreased reported=%v, want %v (reasons %v)",
				scores, reported, hasDecrease, verdict.Reasons)
		}
	})
}

// TestVerdictDeterminismProperty tests that evaluating the same history
// twice yields identical verdicts regardless of input order.
func TestVerdictDeterminismProperty(t *testing.T) {
	engine := NewEngine(100)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "count")
		checkpoints := make([]*model.Checkpoint, 0, n)
		for i := 0; i < n; i++ {
			// Distinct observed_at per checkpoint so ties cannot make
			// the stable sort order depend on arrival order.
			observedAt := int64(i)*100_000 + rapid.Int64Range(0, 99_999).Draw(t, fmt.Sprintf("at%d", i))
			score := rapid.Int64Range(0, 500).Draw(t, fmt.Sprintf("score%d", i))
			nonce := fmt.Sprintf("n%d", i)
			cp := &model.Checkpoint{
				ObservedAt: observedAt,
				Score:      score,
				GameTime:   observedAt,
				Nonce:      nonce,
				Hash:       ComputeCheckpointHash(observedAt, score, observedAt, nonce),
			}
			checkpoints = append(checkpoints, cp)
		}
		finalScore := rapid.Int64Range(0, 500).Draw(t, "finalScore")
		duration := rapid.Int64Range(0, 100_000).Draw(t, "duration")

		first := engine.Evaluate(checkpoints, finalScore, duration, 10)

		// Reverse the arrival order; the engine must sort internally.
		reversed := make([]*model.Checkpoint, n)
		for i, cp := range checkpoints {
			reversed[n-1-i] = cp
		}
		second := engine.Evaluate(reversed, finalScore, duration, 10)

		if first.IsValid != second.IsValid || len(first.Reasons) != len(second.Reasons) {
			t.Fatalf("verdict depends on arrival order: %v vs %v", first, second)
		}
		for i := range first.Reasons {
			if first.Reasons[i] != second.Reasons[i] {
				t.Fatalf("reason order differs: %v vs %v", first.Reasons, second.Reasons)
			}
		}
	})
}
