package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestWindowLimiterSequence(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewWindowLimiter(2, time.Second, clock)
	ctx := context.Background()

	d, err := l.Check(ctx, "W1", "U1", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, epoch.Add(time.Second), d.ResetAt)

	d, _ = l.Check(ctx, "W1", "U1", 1)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)

	d, _ = l.Check(ctx, "W1", "U1", 1)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, epoch.Add(time.Second), d.ResetAt)

	clock.Advance(time.Second)
	d, _ = l.Check(ctx, "W1", "U1", 1)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, epoch.Add(2*time.Second), d.ResetAt)
}

func TestWindowLimiterRejectionConsumesNothing(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewWindowLimiter(5, time.Minute, clock)
	ctx := context.Background()

	d, _ := l.Check(ctx, "W1", "U1", 3)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)

	d, _ = l.Check(ctx, "W1", "U1", 3)
	require.False(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)

	d, _ = l.Check(ctx, "W1", "U1", 2)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestWindowLimiterKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewWindowLimiter(1, time.Minute, clock)
	ctx := context.Background()

	d, _ := l.Check(ctx, "W1", "U1", 1)
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "W1", "U2", 1)
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "W2", "U1", 1)
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "W1", "U1", 1)
	require.False(t, d.Allowed)
}

func TestWindowLimiterDisabled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	for _, l := range []*WindowLimiter{
		NewWindowLimiter(0, time.Minute, clock),
		NewWindowLimiter(5, 0, clock),
	} {
		for i := 0; i < 100; i++ {
			d, err := l.Check(context.Background(), "W1", "U1", 5)
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}
	}
}

func TestWindowLimiterSweepsExpiredWindows(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	l := NewWindowLimiter(1, time.Second, clock)
	l.windows[windowKey{"W0", "stale"}] = &window{count: 1, resetAt: epoch}
	for i := 0; i < sweepThreshold; i++ {
		l.windows[windowKey{"W0", fmt.Sprintf("U%d", i)}] = &window{count: 1, resetAt: epoch}
	}

	clock.Advance(time.Second)
	d, _ := l.Check(context.Background(), "W1", "U1", 1)
	require.True(t, d.Allowed)
	require.Len(t, l.windows, 1)
}

func TestDecisionRetryAfter(t *testing.T) {
	d := Decision{ResetAt: epoch.Add(1500 * time.Millisecond)}
	require.Equal(t, 2*time.Second, d.RetryAfter(epoch))
	require.Equal(t, time.Second, d.RetryAfter(epoch.Add(time.Hour)))
}

type scripterMock struct {
	redis.Scripter
	evalShaFn func(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd
}

func (m *scripterMock) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return m.evalShaFn(ctx, sha, keys, args...)
}

func TestRedisLimiterDecodesReply(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	var gotKeys []string
	var gotArgs []interface{}
	reply := []interface{}{int64(1), int64(3), int64(45000)}

	mock := &scripterMock{evalShaFn: func(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
		gotKeys, gotArgs = keys, args
		cmd := redis.NewCmd(ctx)
		cmd.SetVal(reply)
		return cmd
	}}

	l := NewRedisLimiter(mock, 5, time.Minute, clock)
	d, err := l.Check(context.Background(), "W1", "U1", 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
	require.Equal(t, epoch.Add(45*time.Second), d.ResetAt)
	require.Equal(t, []string{"kudos:ratelimit:W1:U1"}, gotKeys)
	require.Equal(t, []interface{}{5, int64(60000), 2}, gotArgs)

	reply = []interface{}{int64(0), int64(5), int64(1000)}
	d, err = l.Check(context.Background(), "W1", "U1", 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestRedisLimiterSurfacesErrors(t *testing.T) {
	mock := &scripterMock{evalShaFn: func(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}}

	l := NewRedisLimiter(mock, 5, time.Minute, clockwork.NewFakeClockAt(epoch))
	_, err := l.Check(context.Background(), "W1", "U1", 1)
	require.ErrorContains(t, err, "connection refused")

	disabled := NewRedisLimiter(mock, 0, time.Minute, nil)
	d, err := disabled.Check(context.Background(), "W1", "U1", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
