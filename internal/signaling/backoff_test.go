package signaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(InitialDelay, MaxDelay)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "attempt %d", i+1)
	}
	assert.Equal(t, MaxDelay, b.Current())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(InitialDelay, MaxDelay)
	b.Next()
	b.Next()
	b.Next()
	assert.Equal(t, 8*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffNeverExceedsMax(t *testing.T) {
	b := NewBackoff(3*time.Second, 10*time.Second)
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, b.Next(), 10*time.Second)
	}
}
