package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffNext(t *testing.T) {
	testCases := []struct {
		desc    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"exponential first", Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}, 1, 100 * time.Millisecond},
		{"exponential third", Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}, 3, 400 * time.Millisecond},
		{"exponential capped", Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}, 10, time.Second},
		{"fixed", Backoff{Mode: BackoffFixed, Min: 300 * time.Millisecond, Max: time.Second}, 7, 300 * time.Millisecond},
		{"zero attempt", Backoff{Min: 100 * time.Millisecond}, 0, 100 * time.Millisecond},
		{"defaults", Backoff{}, 2, 200 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.backoff.Next(tc.attempt))
		})
	}
}

func TestBackoffJitter(t *testing.T) {
	b := Backoff{Mode: BackoffFixed, Min: 100 * time.Millisecond, Jitter: 0.5}
	for range 100 {
		wait := b.Next(1)
		assert.GreaterOrEqual(t, wait, 50*time.Millisecond)
		assert.LessOrEqual(t, wait, 150*time.Millisecond)
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	assert.False(t, b.Exhausted(3))
	assert.True(t, b.Exhausted(4))
	assert.False(t, Backoff{}.Exhausted(1000))
}

func TestParseBackoffMode(t *testing.T) {
	m, ok := ParseBackoffMode("fixed")
	assert.True(t, ok)
	assert.Equal(t, BackoffFixed, m)

	m, ok = ParseBackoffMode("")
	assert.True(t, ok)
	assert.Equal(t, BackoffExponential, m)

	_, ok = ParseBackoffMode("linear")
	assert.False(t, ok)
}
