package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeriveKey builds the idempotency key for a (contact, campaign) pair. The
// derivation is deterministic with no timestamp or randomness, so retried and
// re-run enqueues of the same pair always collide on the same key.
func DeriveKey(contactID, campaignID string) string {
	sum := sha256.Sum256([]byte(contactID + "|" + campaignID))
	return hex.EncodeToString(sum[:])[:32]
}

// EnqueueResult says what happened to an enqueue attempt.
type EnqueueResult int

const (
	// Accepted means a new dispatch row was written.
	Accepted EnqueueResult = iota
	// Duplicate means the key already existed. Callers treat this as success;
	// the original enqueue owns the send.
	Duplicate
)

func (r EnqueueResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "accepted"
}
