package dispatch

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("+13055550100", "rei:L-0042")
	b := DeriveKey("+13055550100", "rei:L-0042")

	assert.Equal(t, a, b)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), a)
}

func TestDeriveKey_DistinctPairsDiverge(t *testing.T) {
	base := DeriveKey("+13055550100", "rei:L-0042")

	assert.NotEqual(t, base, DeriveKey("+13055550101", "rei:L-0042"))
	assert.NotEqual(t, base, DeriveKey("+13055550100", "rei:L-0043"))
	// The separator keeps (a, bc) and (ab, c) from colliding
	assert.NotEqual(t, DeriveKey("a", "bc"), DeriveKey("ab", "c"))
}

func TestEnqueueResult_String(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "duplicate", Duplicate.String())
}
