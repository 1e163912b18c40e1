package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOutage = NewTransientError(errors.New("overloaded"), 529)

func failN(t *testing.T, b *Breaker, n int, err error) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func(context.Context) error { return err })
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("oracle", BreakerConfig{FailureThreshold: 3, CoolOff: time.Minute})

	failN(t, b, 3, errOutage)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_NonTrippingErrorsDoNotOpen(t *testing.T) {
	b := NewBreaker("oracle", BreakerConfig{FailureThreshold: 2, CoolOff: time.Minute})

	failN(t, b, 5, errors.New("malformed answer"))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("oracle", BreakerConfig{FailureThreshold: 3, CoolOff: time.Minute})

	failN(t, b, 2, errOutage)
	require.NoError(t, b.Do(context.Background(), func(context.Context) error { return nil }))
	failN(t, b, 2, errOutage)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker("reddit", BreakerConfig{FailureThreshold: 1, CoolOff: 30 * time.Second})
	b.now = func() time.Time { return now }

	failN(t, b, 1, errOutage)
	assert.Equal(t, Open, b.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// A failed probe reopens.
	failN(t, b, 1, errOutage)
	assert.Equal(t, Open, b.State())

	now = now.Add(31 * time.Second)
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_OnChange(t *testing.T) {
	var seen []string
	b := NewBreaker("oracle", BreakerConfig{
		FailureThreshold: 1,
		CoolOff:          time.Minute,
		OnChange: func(name string, from, to State) {
			seen = append(seen, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	failN(t, b, 2, errOutage)
	assert.Equal(t, []string{"oracle:closed->open"}, seen)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(FromSettings(1, 60))
	assert.Same(t, r.Get("oracle"), r.Get("oracle"))

	failN(t, r.Get("reddit"), 1, errOutage)
	states := r.States()
	assert.Equal(t, Closed, states["oracle"])
	assert.Equal(t, Open, states["reddit"])
}

func TestFromSettings_Defaults(t *testing.T) {
	cfg := FromSettings(0, -1)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.CoolOff)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input"), false},
		{"explicit", errOutage, true},
		{"wrapped", fmt.Errorf("call: %w", errOutage), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"dns", errors.New("dial tcp: lookup x: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	assert.True(t, IsTransientHTTPStatus(429))
	assert.True(t, IsTransientHTTPStatus(503))
	assert.False(t, IsTransientHTTPStatus(404))
	assert.False(t, IsTransientHTTPStatus(200))
}
