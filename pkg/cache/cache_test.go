package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	HouseEdgeBps uint16 `json:"house_edge_bps"`
	NextDiceID   uint64 `json:"next_dice_id"`
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	in := snapshot{HouseEdgeBps: 200, NextDiceID: 7}
	require.NoError(t, c.Set(ctx, "status", in, time.Minute))
	in.NextDiceID = 8

	var out snapshot
	require.NoError(t, c.Get(ctx, "status", &out))
	assert.Equal(t, uint64(7), out.NextDiceID)

	require.NoError(t, c.Delete(ctx, "status"))
	assert.True(t, errors.Is(c.Get(ctx, "status", &out), ErrMiss))
}

func TestMultiLevelFallsBackToRemote(t *testing.T) {
	ctx := context.Background()
	local := NewMemoryCache(time.Minute, time.Minute)
	remote := NewMemoryCache(time.Minute, time.Minute)
	m := NewMultiLevelCache(local, remote)

	require.NoError(t, remote.Set(ctx, "status", snapshot{NextDiceID: 3}, time.Minute))

	var out snapshot
	require.NoError(t, m.Get(ctx, "status", &out))
	assert.Equal(t, uint64(3), out.NextDiceID)

	// 已回写 L1
	var l1 snapshot
	require.NoError(t, local.Get(ctx, "status", &l1))
	assert.Equal(t, uint64(3), l1.NextDiceID)
}
