package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDefaults(t *testing.T) {
	viper.Reset()
	Global = Config{}
	Init()

	assert.Equal(t, int64(11155111), Global.Chain.ID)
	assert.Equal(t, "Sepolia ETH", Global.Chain.CurrencyName)
	assert.Equal(t, uint8(18), Global.Chain.CurrencyDecimals)
	assert.Equal(t, 3*time.Second, Global.Watcher.PollInterval)
	assert.Equal(t, 180*time.Second, Global.Watcher.Ceiling)
	assert.Equal(t, 24*time.Hour, Global.Refund.DiceAfter)
	assert.Equal(t, 7*24*time.Hour, Global.Refund.LotteryAfter)
}

func TestInitFromFileAndEnv(t *testing.T) {
	viper.Reset()
	Global = Config{}

	file := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
chain:
  id: 31337
  name: Anvil
watcher:
  poll_interval: 500ms
contract:
  mode: simulated
`)
	require.NoError(t, os.WriteFile(file, content, 0600))
	t.Setenv("WATCHER_CEILING", "10s")

	Init(file)

	assert.Equal(t, int64(31337), Global.Chain.ID)
	assert.Equal(t, "Anvil", Global.Chain.Name)
	assert.Equal(t, 500*time.Millisecond, Global.Watcher.PollInterval)
	assert.Equal(t, 10*time.Second, Global.Watcher.Ceiling)
	assert.Equal(t, "simulated", Global.Contract.Mode)
}

func TestMigrateURL(t *testing.T) {
	pg := DBConfig{Driver: "postgres", User: "u", Password: "p", Host: "h", Port: "5432", Name: "d"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", pg.MigrateURL())

	lite := DBConfig{Driver: "sqlite", Path: "wager.db"}
	assert.Equal(t, "sqlite://wager.db", lite.MigrateURL())
}
