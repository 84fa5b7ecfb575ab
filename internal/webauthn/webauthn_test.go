package webauthn

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// challengeEcho authorizes an assertion iff the consumed challenge equals
// the one it was primed with, mimicking a client that signed it.
type challengeEcho struct {
	signed string
	calls  int
}

func (c *challengeEcho) Check(_ context.Context, _, challenge string, _ Assertion) (bool, error) {
	c.calls++
	return challenge == c.signed, nil
}

func redisStore(t *testing.T) *RedisChallengeStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisChallengeStore(client)
}

func TestVerifyConsumesChallenge(t *testing.T) {
	checker := &challengeEcho{}
	v := NewVerifier(redisStore(t), checker, "example.test")
	ctx := context.Background()

	opts, err := v.Initiate(ctx, "acct-1")
	require.NoError(t, err)
	require.NotEmpty(t, opts.Challenge)
	checker.signed = opts.Challenge

	ok, err := v.Verify(ctx, "acct-1", Assertion{ID: "cred"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Replay: the challenge is gone, the checker is not even consulted.
	ok, err = v.Verify(ctx, "acct-1", Assertion{ID: "cred"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, checker.calls)
}

func TestReinitiateInvalidatesPriorChallenge(t *testing.T) {
	checker := &challengeEcho{}
	v := NewVerifier(redisStore(t), checker, "example.test")
	ctx := context.Background()

	first, err := v.Initiate(ctx, "acct-1")
	require.NoError(t, err)
	second, err := v.Initiate(ctx, "acct-1")
	require.NoError(t, err)
	require.NotEqual(t, first.Challenge, second.Challenge)

	// The client signed the first challenge, but only the second is
	// outstanding.
	checker.signed = first.Challenge
	ok, err := v.Verify(ctx, "acct-1", Assertion{ID: "cred"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	checker := &challengeEcho{signed: "anything"}
	v := NewVerifier(redisStore(t), checker, "example.test")

	ok, err := v.Verify(context.Background(), "acct-1", Assertion{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, checker.calls)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryChallengeStore()
	now := time.Unix(1_700_000_000, 0)
	store.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "acct-1", "chal", ChallengeTTL))

	now = now.Add(ChallengeTTL + time.Second)
	_, err := store.Consume(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRedisStoreSingleUse(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "acct-1", "chal", time.Minute))

	got, err := store.Consume(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "chal", got)

	_, err = store.Consume(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrNoChallenge)
}
