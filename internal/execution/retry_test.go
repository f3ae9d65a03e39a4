package execution

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishermon/internal/exchange"
)

type fakeSleeper struct {
	waits   []time.Duration
	onSleep func(n int)
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	if f.onSleep != nil {
		f.onSleep(len(f.waits))
	}
	return ctx.Err()
}

func newTestRetrier(policy RetryPolicy) (*Retrier, *fakeSleeper) {
	sleeper := &fakeSleeper{}
	r := NewRetrier(policy, nil)
	r.sleep = sleeper.sleep
	return r, sleeper
}

func TestDo_RetriesNetworkErrorsUntilSuccess(t *testing.T) {
	r, sleeper := newTestRetrier(RetryPolicy{Cooldown: 300 * time.Millisecond})

	attempts := 0
	got, err := Do(context.Background(), r, "fetch_order_book", func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", exchange.NetworkError("fetch_order_book", errors.New("connection reset"))
		}
		return "book", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "book", got)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}, sleeper.waits)
}

func TestDo_UnprocessableIsNotRetried(t *testing.T) {
	r, sleeper := newTestRetrier(RetryPolicy{Cooldown: time.Second})
	rejected := exchange.StatusError("create_bid", http.StatusUnprocessableEntity, errors.New("invalid amount"))

	attempts := 0
	_, err := Do(context.Background(), r, "create_bid", func(ctx context.Context) (int, error) {
		attempts++
		return 0, rejected
	})

	assert.Same(t, rejected, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.waits)
}

func TestDo_OtherStatusIsRetried(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{})

	attempts := 0
	err := r.Run(context.Background(), "cancel_ask", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return exchange.StatusError("cancel_ask", http.StatusServiceUnavailable, errors.New("busy"))
		}
		if attempts == 2 {
			return exchange.StatusError("cancel_ask", http.StatusUnauthorized, errors.New("nonce"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_UnclassifiedErrorIsNotRetried(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{})
	boom := errors.New("boom")

	attempts := 0
	err := r.Run(context.Background(), "fetch_profile", func(ctx context.Context) error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDo_UnboundedByDefault(t *testing.T) {
	r, sleeper := newTestRetrier(RetryPolicy{Cooldown: 10 * time.Millisecond})

	attempts := 0
	err := r.Run(context.Background(), "list_open_orders", func(ctx context.Context) error {
		attempts++
		if attempts < 500 {
			return exchange.NetworkError("list_open_orders", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 500, attempts)
	assert.Len(t, sleeper.waits, 500)
	for _, w := range sleeper.waits {
		assert.Equal(t, 10*time.Millisecond, w)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{Cooldown: time.Millisecond, MaxAttempts: 3})
	netErr := exchange.NetworkError("fetch_order_book", errors.New("unreachable"))

	attempts := 0
	err := r.Run(context.Background(), "fetch_order_book", func(ctx context.Context) error {
		attempts++
		return netErr
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, 3, attempts)
}

func TestDo_BackoffIsCapped(t *testing.T) {
	r, sleeper := newTestRetrier(RetryPolicy{
		Cooldown:      100 * time.Millisecond,
		BackoffFactor: 2,
		MaxCooldown:   300 * time.Millisecond,
	})

	attempts := 0
	err := r.Run(context.Background(), "fetch_profile", func(ctx context.Context) error {
		attempts++
		if attempts < 5 {
			return exchange.NetworkError("fetch_profile", errors.New("reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, sleeper.waits)
}

func TestDo_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, sleeper := newTestRetrier(RetryPolicy{Cooldown: time.Second})
	sleeper.onSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	attempts := 0
	err := r.Run(ctx, "list_open_orders", func(ctx context.Context) error {
		attempts++
		return exchange.NetworkError("list_open_orders", errors.New("reset"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
