package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/pkg/errno"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = parseID("-1")
	assert.ErrorIs(t, err, errno.ErrBind)
}

func TestParseEther(t *testing.T) {
	v, err := parseEther("stake", "0.001")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", v.String())

	_, err = parseEther("stake", "abc")
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"init"}, {"status"}, {"quote"}, {"dice"},
		{"lottery", "create"}, {"lottery", "buy"}, {"lottery", "draw"},
		{"refund", "list"}, {"refund", "claim"},
		{"admin", "fund"}, {"admin", "limits"},
		{"events"}, {"history"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}
