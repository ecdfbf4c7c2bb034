package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gec682416/onchain-random-game/pkg/config"
	"github.com/gec682416/onchain-random-game/pkg/keystore"
	"github.com/gec682416/onchain-random-game/pkg/utils/lock"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func simulatedConfig() config.Config {
	return config.Config{
		App: config.AppConfig{Env: "test"},
		DB:  config.DBConfig{Driver: "sqlite", Path: ":memory:"},
		Chain: config.ChainConfig{
			ID:               11155111,
			Name:             "Sepolia",
			RpcUrl:           "https://rpc.sepolia.example",
			ExplorerUrl:      "https://sepolia.etherscan.io",
			CurrencyName:     "Sepolia ETH",
			CurrencySymbol:   "ETH",
			CurrencyDecimals: 18,
		},
		Contract: config.ContractConfig{
			Mode:         "simulated",
			Address:      "0x4444444444444444444444444444444444444444",
			AutoFulfill:  10 * time.Millisecond,
			HouseEdgeBps: 200,
		},
		Wallet:  config.WalletConfig{Mnemonic: testMnemonic, Accounts: 2, AutoApprove: true},
		Watcher: config.WatcherConfig{PollInterval: 20 * time.Millisecond, Ceiling: time.Minute},
	}
}

func TestBuildSimulated(t *testing.T) {
	c, err := Build(context.Background(), simulatedConfig())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Simulated)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Producer)
	assert.Nil(t, c.Worker)
	assert.IsType(t, &lock.LocalLock{}, c.Locker)
	assert.Len(t, c.Provider.Accounts(), 2)

	sess, err := c.Wagers.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), sess.ChainID.Int64())
	assert.Equal(t, c.Provider.Accounts()[0], sess.Address)

	snap, err := c.Wagers.RefreshStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(200), snap.HouseEdgeBps)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", snap.Contract)
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := simulatedConfig()
	cfg.DB.Driver = "mysql"
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadMnemonic(t *testing.T) {
	got, err := LoadMnemonic(config.WalletConfig{Mnemonic: testMnemonic, KeystorePath: "ignored.json"})
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, got)

	path := filepath.Join(t.TempDir(), "wallet.json")
	k, err := keystore.EncryptMnemonicWithParams(testMnemonic, "pw", keystore.LightScrypt)
	require.NoError(t, err)
	require.NoError(t, k.SaveToFile(path))

	got, err = LoadMnemonic(config.WalletConfig{KeystorePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, got)

	_, err = LoadMnemonic(config.WalletConfig{KeystorePath: path, Password: "wrong"})
	assert.ErrorIs(t, err, ErrNoWallet)

	_, err = LoadMnemonic(config.WalletConfig{})
	assert.ErrorIs(t, err, ErrNoWallet)
}
