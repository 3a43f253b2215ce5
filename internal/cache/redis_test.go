package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	c, err := NewRedis(context.Background(), addr, "", os.Getenv("TEST_REDIS_PASSWORD"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedis_BalanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestRedis(t)

	userID := time.Now().UnixNano()

	_, err := c.GetBalance(ctx, userID)
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.SetBalance(ctx, userID, 1010))

	points, err := c.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1010), points)

	require.NoError(t, c.InvalidateBalance(ctx, userID))

	_, err = c.GetBalance(ctx, userID)
	require.ErrorIs(t, err, ErrMiss)
}

func TestBalanceKey(t *testing.T) {
	assert.Equal(t, "balance:42", balanceKey(42))
}
