package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		policy    Policy
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "first attempt succeeds",
			policy:    Policy{Attempts: 3},
			wantCalls: 1,
		},
		{
			name:      "succeeds after failures",
			policy:    Policy{Attempts: 3, Backoff: time.Microsecond},
			failures:  2,
			err:       errBoom,
			wantCalls: 3,
		},
		{
			name:      "gives up after attempts",
			policy:    Policy{Attempts: 3, Backoff: time.Microsecond},
			failures:  10,
			err:       errBoom,
			wantCalls: 3,
			wantErr:   errBoom,
		},
		{
			name: "stops on non-retryable",
			policy: Policy{Attempts: 5, Retryable: func(err error) bool {
				return !errors.Is(err, errFatal)
			}},
			failures:  10,
			err:       errFatal,
			wantCalls: 1,
			wantErr:   errFatal,
		},
		{
			name:      "zero attempts still calls once",
			policy:    Policy{},
			failures:  1,
			err:       errBoom,
			wantCalls: 1,
			wantErr:   errBoom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), tt.policy, func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, Policy{Attempts: 5, Backoff: time.Hour}, func() error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
