package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_StaysWithinBounds(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second, 2.0)

	for i := 0; i < 50; i++ {
		wait := b.Next()
		assert.GreaterOrEqual(t, wait, time.Second)
		assert.LessOrEqual(t, wait, 10*time.Second)
	}
	assert.Equal(t, 50, b.Attempts())
}

func TestBackoff_GrowsTowardCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second, 2.0)

	first := b.Next()
	// First wait jitters off the floor, never past +20%
	assert.Less(t, first, 1200*time.Millisecond+time.Millisecond)

	for i := 0; i < 10; i++ {
		b.Next()
	}
	// Far past the doubling horizon every wait hugs the ceiling
	late := b.Next()
	assert.GreaterOrEqual(t, late, 8*time.Second)
}

func TestBackoff_ResetReturnsToFloor(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second, 2.0)

	for i := 0; i < 10; i++ {
		b.Next()
	}
	b.Reset()

	assert.Zero(t, b.Attempts())
	assert.Less(t, b.Next(), 1200*time.Millisecond+time.Millisecond)
}
