package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.0001")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100_000_000_000_000), wei)

	wei, err = ParseEther("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", wei.String())

	_, err = ParseEther("-1")
	assert.Error(t, err)
	_, err = ParseEther("0.0000000000000000001")
	assert.Error(t, err)
	_, err = ParseEther("abc")
	assert.Error(t, err)
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.0001", FormatEther(big.NewInt(100_000_000_000_000)))
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "1.5", FormatEther(new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))))
}
