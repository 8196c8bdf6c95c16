package message

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Signer produces a keyed digest over canonical message bytes. Exactly
// one signer is selected at startup; strong and fallback schemes are
// never mixed within one deployment.
type Signer interface {
	// Sign returns the hex digest of the canonical bytes.
	Sign(canonical []byte) string

	// Scheme returns the scheme name ("hmac-sha256" or "fallback-sha256").
	Scheme() string

	// Strong reports whether the scheme is the cryptographically sound
	// primary. The fallback returns false and its use is flagged.
	Strong() bool
}

// Signer scheme names accepted in configuration.
const (
	SchemeHMAC     = "hmac"
	SchemeFallback = "fallback"
)

// HMACSigner is the primary scheme: HMAC-SHA256 over the canonical bytes
// with the shared secret.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates the primary signer.
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 digest of the canonical bytes.
func (s *HMACSigner) Sign(canonical []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Scheme returns "hmac-sha256".
func (s *HMACSigner) Scheme() string { return "hmac-sha256" }

// Strong returns true.
func (s *HMACSigner) Strong() bool { return true }

// FallbackSigner is the documented degraded scheme for environments where
// the keyed-MAC primitive is unavailable on the embedded side: a plain
// SHA-256 over secret-framed input. It is deterministic and
// secret-dependent, which is enough against casual tampering, but it does
// not carry HMAC's formal guarantees. Selecting it is logged at startup
// and surfaced via Strong() == false.
type FallbackSigner struct {
	secret []byte
}

// NewFallbackSigner creates the degraded signer.
func NewFallbackSigner(secret string) *FallbackSigner {
	return &FallbackSigner{secret: []byte(secret)}
}

// Sign returns hex SHA-256 of secret||canonical||secret. The trailing
// secret blocks naive length-extension of the prefix construction.
func (s *FallbackSigner) Sign(canonical []byte) string {
	h := sha256.New()
	h.Write(s.secret)
	h.Write(canonical)
	h.Write(s.secret)
	return hex.EncodeToString(h.Sum(nil))
}

// Scheme returns "fallback-sha256".
func (s *FallbackSigner) Scheme() string { return "fallback-sha256" }

// Strong returns false.
func (s *FallbackSigner) Strong() bool { return false }

// NewSigner selects a signer by configured scheme name. Choosing the
// fallback logs a warning; the weaker guarantees must never be silent.
func NewSigner(scheme, secret string) (Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signer secret must not be empty")
	}

	switch scheme {
	case SchemeHMAC, "":
		return NewHMACSigner(secret), nil
	case SchemeFallback:
		log.Warn().
			Str("scheme", "fallback-sha256").
			Msg("Using fallback signing scheme; message channel integrity is degraded")
		return NewFallbackSigner(secret), nil
	default:
		return nil, fmt.Errorf("unknown signer scheme %q", scheme)
	}
}
