package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(context.Context) (int, error) { return 0, errors.New("boom") }
func passing(context.Context) (int, error) { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	b := NewBreaker(BreakerConfig{
		Threshold: 2,
		Cooldown:  time.Minute,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateClosed, b.State())
	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateOpen, b.State())

	_, err := Call(ctx, b, passing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, b, failing)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	v, err := Call(ctx, b, passing)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Call(ctx, b, failing)
	}
	now = now.Add(2 * time.Second)
	_, err := Call(ctx, b, failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CountsFilter(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Counts: IsTransient})
	_, _ = Call(context.Background(), b, failing)
	assert.Equal(t, StateClosed, b.State(), "permanent errors do not trip")

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
