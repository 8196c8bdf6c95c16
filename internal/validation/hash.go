package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeCheckpointHash derives the checkpoint binding hash. It is part
// of the public contract between the embedded content and the validator:
// both ends must produce identical digests for identical fields, so the
// field order and encoding here are fixed.
func ComputeCheckpointHash(observedAt, score, gameTime int64, nonce string) string {
	input := fmt.Sprintf("%d:%d:%d:%s", observedAt, score, gameTime, nonce)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
