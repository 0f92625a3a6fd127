package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type step struct {
	fail     bool
	fallback bool
	open     bool
}

func run(t *testing.T, b *Breaker, steps []step) {
	t.Helper()
	for i, st := range steps {
		var useFallback bool
		if st.fail {
			useFallback, _ = b.RecordFailure()
		} else {
			primary, _ := b.RecordSuccess()
			useFallback = !primary
		}
		assert.Equal(t, st.fallback, useFallback, "step %d fallback", i)
		assert.Equal(t, st.open, b.IsOpen(), "step %d open", i)
	}
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, fallback: true, open: true},
				{fail: true, fallback: true, open: true},
			},
		},
		{
			name: "success while closed resets the failure streak",
			opts: []Option{WithFailureThreshold(2)},
			steps: []step{
				{fail: true},
				{},
				{fail: true},
				{fail: true, fallback: true, open: true},
			},
		},
		{
			name: "closes after consecutive successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, fallback: true, open: true},
				{fallback: true, open: true},
				{},
			},
		},
		{
			name: "failure while open restarts the success streak",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, fallback: true, open: true},
				{fallback: true, open: true},
				{fail: true, fallback: true, open: true},
				{fallback: true, open: true},
				{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run(t, New("eventbus-publish", tt.opts...), tt.steps)
		})
	}
}

func TestBreakerReportsStateChanges(t *testing.T) {
	b := New("eventbus-publish", WithFailureThreshold(1), WithSuccessThreshold(1))
	assert.Equal(t, "eventbus-publish", b.Name())
	assert.Equal(t, "closed", b.State().String())

	_, change := b.RecordFailure()
	assert.Equal(t, StateChange{Opened: true}, change)
	_, change = b.RecordFailure()
	assert.Equal(t, StateChange{}, change, "already open")

	_, change = b.RecordSuccess()
	assert.Equal(t, StateChange{Closed: true}, change)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerResetClosesImmediately(t *testing.T) {
	b := New("eventbus-publish", WithFailureThreshold(1))
	b.RecordFailure()
	b.Reset()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreakerProbesOncePerCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := New("eventbus-publish",
		WithFailureThreshold(1),
		WithCooldown(time.Second),
		WithClock(func() time.Time { return now }),
	)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.False(t, b.Allow(), "inside cooldown")

	now = now.Add(time.Second)
	assert.True(t, b.Allow(), "probe")
	assert.False(t, b.Allow(), "probe already spent")

	now = now.Add(time.Second)
	assert.True(t, b.Allow())
}
