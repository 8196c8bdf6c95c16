package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-shared-secret"

func newTestCodec() *Codec {
	return NewCodec(NewHMACSigner(testSecret), 30*time.Second, 5*time.Second)
}

// TestSignVerifyRoundTrip tests that a freshly signed message verifies
// and returns the original payload bytes.
func TestSignVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec()
	now := time.Now()

	payload := map[string]any{"score": 42, "game_time": 5000}
	msg, err := codec.Sign(KindCheckpoint, payload, now)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Signature)
	require.NotEmpty(t, msg.Nonce)

	kind, raw, err := codec.Verify(msg, now)
	require.NoError(t, err)
	assert.Equal(t, KindCheckpoint, kind)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 42, decoded["score"])
}

// TestVerifyRejectsBadShape tests rejection of structurally invalid
// envelopes.
func TestVerifyRejectsBadShape(t *testing.T) {
	codec := newTestCodec()
	now := time.Now()

	valid, err := codec.Sign(KindEvent, map[string]string{"name": "level-up"}, now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(m SecureMessage) *SecureMessage
		reason Reason
	}{
		{"nil message", func(SecureMessage) *SecureMessage { return nil }, ReasonBadShape},
		{"empty nonce", func(m SecureMessage) *SecureMessage { m.Nonce = ""; return &m }, ReasonBadShape},
		{"empty signature", func(m SecureMessage) *SecureMessage { m.Signature = ""; return &m }, ReasonBadShape},
		{"empty payload", func(m SecureMessage) *SecureMessage { m.Payload = nil; return &m }, ReasonBadShape},
		{"unknown kind", func(m SecureMessage) *SecureMessage { m.Kind = "self-destruct"; return &m }, ReasonUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := codec.Verify(tt.mutate(*valid), now)
			require.Error(t, err)
			assert.Equal(t, tt.reason, RejectionReason(err))
		})
	}
}

// TestVerifyFreshnessWindow tests the staleness and clock-skew bounds.
// Freshness is enforced regardless of signature validity.
func TestVerifyFreshnessWindow(t *testing.T) {
	codec := newTestCodec()
	issued := time.Now()

	msg, err := codec.Sign(KindCheckpoint, map[string]int{"score": 1}, issued)
	require.NoError(t, err)

	tests := []struct {
		name   string
		now    time.Time
		reason Reason
	}{
		{"just inside staleness", issued.Add(29 * time.Second), ""},
		{"exactly at staleness", issued.Add(30 * time.Second), ""},
		{"past staleness", issued.Add(31 * time.Second), ReasonStale},
		{"far past staleness", issued.Add(10 * time.Minute), ReasonStale},
		{"within skew", issued.Add(-4 * time.Second), ""},
		{"past skew", issued.Add(-6 * time.Second), ReasonFuture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := codec.Verify(msg, tt.now)
			if tt.reason == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.reason, RejectionReason(err))
			}
		})
	}
}

// TestVerifyRejectsWrongSecret tests that a message signed with one
// secret never verifies under another.
func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	sender := NewCodec(NewHMACSigner("secret-a"), 30*time.Second, 5*time.Second)
	receiver := NewCodec(NewHMACSigner("secret-b"), 30*time.Second, 5*time.Second)

	msg, err := sender.Sign(KindSessionStart, map[string]string{"game_id": "tile-matcher"}, now)
	require.NoError(t, err)

	_, _, err = receiver.Verify(msg, now)
	require.Error(t, err)
	assert.Equal(t, ReasonBadSignature, RejectionReason(err))
}

// TestFallbackSignerRoundTrip tests that the degraded scheme still signs
// and verifies deterministically, and that it self-reports as weak.
func TestFallbackSignerRoundTrip(t *testing.T) {
	signer := NewFallbackSigner(testSecret)
	assert.False(t, signer.Strong())
	assert.Equal(t, "fallback-sha256", signer.Scheme())

	codec := NewCodec(signer, 30*time.Second, 5*time.Second)
	now := time.Now()

	msg, err := codec.Sign(KindHoneypotTrigger, map[string]string{"event": "debug mode enabled"}, now)
	require.NoError(t, err)

	kind, _, err := codec.Verify(msg, now)
	require.NoError(t, err)
	assert.Equal(t, KindHoneypotTrigger, kind)

	// Fallback and primary signatures must never be interchangeable.
	hmacCodec := newTestCodec()
	_, _, err = hmacCodec.Verify(msg, now)
	require.Error(t, err)
	assert.Equal(t, ReasonBadSignature, RejectionReason(err))
}

// TestNewSigner tests scheme selection.
func TestNewSigner(t *testing.T) {
	s, err := NewSigner(SchemeHMAC, testSecret)
	require.NoError(t, err)
	assert.True(t, s.Strong())

	s, err = NewSigner(SchemeFallback, testSecret)
	require.NoError(t, err)
	assert.False(t, s.Strong())

	_, err = NewSigner("rot13", testSecret)
	assert.Error(t, err)

	_, err = NewSigner(SchemeHMAC, "")
	assert.Error(t, err)
}

// TestReplayCache tests nonce dedup and TTL expiry.
func TestReplayCache(t *testing.T) {
	cache := NewReplayCache(30 * time.Second)
	now := time.Now()

	assert.False(t, cache.Seen("nonce-1", now))
	assert.True(t, cache.Seen("nonce-1", now.Add(time.Second)))
	assert.False(t, cache.Seen("nonce-2", now))

	// After the TTL the nonce is no longer considered a replay; the
	// freshness window covers that horizon.
	assert.False(t, cache.Seen("nonce-1", now.Add(31*time.Second)))

	evicted := cache.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 0, cache.Len())
}

// TestCodecReplayDetection tests that a codec with a replay cache rejects
// a second delivery of the same envelope.
func TestCodecReplayDetection(t *testing.T) {
	codec := newTestCodec().WithReplayCache(NewReplayCache(30 * time.Second))
	now := time.Now()

	msg, err := codec.Sign(KindCheckpoint, map[string]int{"score": 7}, now)
	require.NoError(t, err)

	_, _, err = codec.Verify(msg, now)
	require.NoError(t, err)

	_, _, err = codec.Verify(msg, now.Add(time.Second))
	require.Error(t, err)
	assert.Equal(t, ReasonReplayed, RejectionReason(err))
}
