package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold uint32, clock *fakeClock) *Breaker {
	return New("test", Settings{
		Threshold: threshold,
		Cooldown:  time.Second,
		Now:       clock.Now,
	})
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		calls    []func() error
		advance  time.Duration
		expected State
	}{
		{
			name:     "stays closed on successes",
			calls:    []func() error{succeed, succeed, succeed},
			expected: StateClosed,
		},
		{
			name:     "success resets the failure run",
			calls:    []func() error{fail, fail, succeed, fail, fail},
			expected: StateClosed,
		},
		{
			name:     "opens after consecutive failures",
			calls:    []func() error{fail, fail, fail},
			expected: StateOpen,
		},
		{
			name:     "half-open after cooldown",
			calls:    []func() error{fail, fail, fail},
			advance:  time.Second,
			expected: StateHalfOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(0, 0)}
			b := newTestBreaker(3, clock)

			for _, call := range tt.calls {
				_ = b.Execute(call)
			}
			clock.Advance(tt.advance)

			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(2, clock)

	_ = b.Execute(fail)
	_ = b.Execute(fail)

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	counts := b.Counts()
	assert.Equal(t, uint64(2), counts.Requests)
	assert.Equal(t, uint64(2), counts.Failures)
	assert.Equal(t, uint64(1), counts.Rejections)
	assert.Equal(t, uint64(1), counts.Trips)
}

func TestBreakerProbe(t *testing.T) {
	t.Run("successful probe closes", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(1, clock)

		_ = b.Execute(fail)
		clock.Advance(time.Second)

		require.NoError(t, b.Execute(succeed))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(5, clock)

		for i := 0; i < 5; i++ {
			_ = b.Execute(fail)
		}
		clock.Advance(time.Second)

		assert.ErrorIs(t, b.Execute(fail), errBoom)
		assert.Equal(t, StateOpen, b.State())
		assert.Equal(t, uint64(2), b.Counts().Trips)
	})

	t.Run("only one probe at a time", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		b := newTestBreaker(1, clock)

		_ = b.Execute(fail)
		clock.Advance(time.Second)

		err := b.Execute(func() error {
			return b.Execute(succeed)
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	errBenign := errors.New("benign")
	b := New("test", Settings{
		Threshold: 1,
		IsFailure: func(err error) bool { return errors.Is(err, errBoom) },
	})

	assert.ErrorIs(t, b.Execute(func() error { return errBenign }), errBenign)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	clock := &fakeClock{now: time.Unix(0, 0)}

	b := New("frames", Settings{
		Threshold: 2,
		Cooldown:  10 * time.Millisecond,
		Now:       clock.Now,
		OnStateChange: func(name string, from State, to State) {
			assert.Equal(t, "frames", name)
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	clock.Advance(20 * time.Millisecond)
	require.NoError(t, b.Execute(succeed))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := New("test", Settings{Threshold: 1})

	assert.Panics(t, func() {
		_ = b.Execute(func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestDo(t *testing.T) {
	b := New("test", Settings{})

	v, err := Do(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBreakerReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBreaker(1, clock)

	_ = b.Execute(fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(succeed))
}
