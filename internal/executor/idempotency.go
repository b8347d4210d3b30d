package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IdempotencyKey deterministically maps a proposal to its one allowed
// execution. The same proposal always yields the same key, so any retry
// converges on the same row instead of creating a new one. The prefix plus 28
// hex chars stays inside exchange client-order-id length limits.
func IdempotencyKey(proposalID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(proposalID)))
	return "tlr-" + hex.EncodeToString(sum[:])[:28]
}
