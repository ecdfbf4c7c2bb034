package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()

	ok, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.False(t, ok, "锁已被持有")

	require.NoError(t, l.Release(ctx, "sweep"))
	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockExpires(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()

	ok, _ := l.Acquire(ctx, "sweep", time.Millisecond)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	ok, _ = l.Acquire(ctx, "sweep", time.Minute)
	assert.True(t, ok, "过期后可以再次获取")
}
