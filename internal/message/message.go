// Package message implements the signed envelope protocol carried across
// the host/embedded-content boundary. Every cross-boundary message is a
// SecureMessage; the payload is never trusted before Verify passes.
package message

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the message type. The set is closed; anything else is
// rejected at verification.
type Kind string

// Message kinds.
const (
	KindAuthStateChanged Kind = "auth-state-changed"
	KindSessionStart     Kind = "session-start"
	KindCheckpoint       Kind = "checkpoint"
	KindSessionEnd       Kind = "session-end"
	KindEvent            Kind = "event"
	KindHoneypotTrigger  Kind = "honeypot-trigger"
)

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindAuthStateChanged, KindSessionStart, KindCheckpoint,
		KindSessionEnd, KindEvent, KindHoneypotTrigger:
		return true
	}
	return false
}

// SecureMessage is the signed envelope. Payload is carried verbatim as
// raw JSON so sender and receiver sign identical bytes.
type SecureMessage struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	IssuedAt  int64           `json:"issued_at"` // epoch ms
	Nonce     string          `json:"nonce"`     // hex
	Signature string          `json:"signature"` // hex
}

// Reason is a typed rejection reason returned by Verify. Rejections are
// observable security events, never uncaught failures.
type Reason string

// Rejection reasons.
const (
	ReasonBadShape     Reason = "bad-shape"
	ReasonUnknownKind  Reason = "unknown-kind"
	ReasonStale        Reason = "stale"
	ReasonFuture       Reason = "future"
	ReasonBadSignature Reason = "bad-signature"
	// ReasonReplayed is reported by the optional nonce cache, a
	// strengthening on top of the freshness window.
	ReasonReplayed Reason = "replayed"
)

// VerifyError carries the typed rejection reason for a failed Verify.
type VerifyError struct {
	Reason Reason
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

// RejectionReason extracts the typed reason from a Verify error.
// Returns empty string if err is not a rejection.
func RejectionReason(err error) Reason {
	if ve, ok := err.(*VerifyError); ok {
		return ve.Reason
	}
	return ""
}

// Codec signs and verifies secure messages. Staleness bounds how old a
// message may be; skew tolerates receiver clocks running slightly behind
// the sender. A nil replay cache disables nonce dedup.
type Codec struct {
	signer    Signer
	staleness time.Duration
	skew      time.Duration
	replay    *ReplayCache
}

// NewCodec creates a codec with the given signer and freshness window.
func NewCodec(signer Signer, staleness, skew time.Duration) *Codec {
	return &Codec{
		signer:    signer,
		staleness: staleness,
		skew:      skew,
	}
}

// WithReplayCache enables nonce replay detection on the codec.
func (c *Codec) WithReplayCache(cache *ReplayCache) *Codec {
	c.replay = cache
	return c
}

// Signer returns the codec's signer.
func (c *Codec) Signer() Signer {
	return c.signer
}

// Sign builds a signed envelope for the given kind and payload.
func (c *Codec) Sign(kind Kind, payload any, now time.Time) (*SecureMessage, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("cannot sign unknown kind %q", kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	issuedAt := now.UnixMilli()
	msg := &SecureMessage{
		Kind:     kind,
		Payload:  raw,
		IssuedAt: issuedAt,
		Nonce:    nonce,
	}
	msg.Signature = c.signer.Sign(canonicalBytes(kind, raw, issuedAt, nonce))
	return msg, nil
}

// Verify recomputes the signature and checks freshness. On success it
// returns the kind and the still-encoded payload; on failure the error is
// a *VerifyError with a typed reason.
func (c *Codec) Verify(msg *SecureMessage, now time.Time) (Kind, json.RawMessage, error) {
	if msg == nil || msg.Nonce == "" || msg.Signature == "" || len(msg.Payload) == 0 {
		return "", nil, &VerifyError{Reason: ReasonBadShape}
	}
	if !msg.Kind.Valid() {
		return "", nil, &VerifyError{Reason: ReasonUnknownKind}
	}

	// Freshness is checked before the signature so replayed-but-valid
	// envelopes are rejected cheaply and uniformly.
	age := now.Sub(time.UnixMilli(msg.IssuedAt))
	if age > c.staleness {
		return "", nil, &VerifyError{Reason: ReasonStale}
	}
	if age < -c.skew {
		return "", nil, &VerifyError{Reason: ReasonFuture}
	}

	want := c.signer.Sign(canonicalBytes(msg.Kind, msg.Payload, msg.IssuedAt, msg.Nonce))
	if !hmac.Equal([]byte(want), []byte(msg.Signature)) {
		return "", nil, &VerifyError{Reason: ReasonBadSignature}
	}

	if c.replay != nil && c.replay.Seen(msg.Nonce, now) {
		return "", nil, &VerifyError{Reason: ReasonReplayed}
	}

	return msg.Kind, msg.Payload, nil
}

// canonicalBytes produces the deterministic serialization covered by the
// signature. Field order is fixed; the payload JSON is taken verbatim as
// produced by the sender.
func canonicalBytes(kind Kind, payload json.RawMessage, issuedAt int64, nonce string) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(kind))
	buf.WriteByte('\n')
	buf.Write(payload)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(issuedAt, 10))
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	return buf.Bytes()
}

// NewNonce returns a fresh random hex token for message and checkpoint
// nonces.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// NewSessionToken returns an unguessable session capability token.
func NewSessionToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
