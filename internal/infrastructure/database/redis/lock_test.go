package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
)

func newFlightFactory(t *testing.T) (FlightTokenFactory, *miniredis.Miniredis, *Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&RedisConfig{Mode: "standalone", Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	return NewFlightTokenFactory(client, logging.NewNopLogger()), mr, client
}

func TestFlightToken_AcquireRelease(t *testing.T) {
	factory, mr, _ := newFlightFactory(t)
	ctx := context.Background()

	token := factory.NewToken("paper:abc", time.Minute)

	ok, err := token.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("paperd:flight:paper:abc"))

	require.NoError(t, token.Release(ctx))
	assert.False(t, mr.Exists("paperd:flight:paper:abc"))
}

func TestFlightToken_SecondHolderDenied(t *testing.T) {
	factory, _, _ := newFlightFactory(t)
	ctx := context.Background()

	first := factory.NewToken("paper:abc", time.Minute)
	second := factory.NewToken("paper:abc", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "at most one holder per name")
}

func TestFlightToken_ReleaseByNonOwnerIsNoop(t *testing.T) {
	factory, mr, _ := newFlightFactory(t)
	ctx := context.Background()

	holder := factory.NewToken("paper:abc", time.Minute)
	impostor := factory.NewToken("paper:abc", time.Minute)

	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = impostor.Release(ctx)
	assert.Equal(t, ErrLockNotHeld, err)
	assert.True(t, mr.Exists("paperd:flight:paper:abc"), "owner's token survives a foreign release")
}

func TestFlightToken_ExpiryFreesTheName(t *testing.T) {
	factory, mr, _ := newFlightFactory(t)
	ctx := context.Background()

	crashed := factory.NewToken("paper:abc", 50*time.Millisecond)
	ok, err := crashed.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed holder never calls Release; the TTL clears the key.
	mr.FastForward(time.Second)

	successor := factory.NewToken("paper:abc", time.Minute)
	ok, err = successor.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired token no longer blocks acquisition")
}

func TestFlightToken_ReleaseAfterExpiryReportsNotHeld(t *testing.T) {
	factory, mr, _ := newFlightFactory(t)
	ctx := context.Background()

	token := factory.NewToken("paper:abc", 50*time.Millisecond)
	ok, err := token.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Second)

	assert.Equal(t, ErrLockNotHeld, token.Release(ctx))
}

func TestFlightToken_TTLReported(t *testing.T) {
	factory, _, _ := newFlightFactory(t)
	ctx := context.Background()

	token := factory.NewToken("paper:abc", time.Minute)
	ok, err := token.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := token.TTL(ctx)
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)
}
