// Package wallet models the signing wallet a session talks to: which account
// is active, which chain it is on, and how it switches between chains.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/gec682416/onchain-random-game/pkg/config"
)

// EIP-1193 / EIP-3085 error codes
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
)

// ProviderError 是钱包返回的错误，Code 遵循 EIP-1193
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode 返回 err 链上的 ProviderError 错误码，没有则返回 0
func ErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainDefinition 是 wallet_addEthereumChain 的参数
type ChainDefinition struct {
	ChainID           *big.Int       `json:"chainId"`
	Name              string         `json:"chainName"`
	Currency          NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// HexID 返回 0x 前缀的十六进制 chain id，例如 Sepolia 为 0xaa36a7
func (d ChainDefinition) HexID() string {
	if d.ChainID == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", d.ChainID)
}

func (d ChainDefinition) Validate() error {
	switch {
	case d.ChainID == nil || d.ChainID.Sign() <= 0:
		return errors.New("chain id required")
	case d.Name == "":
		return errors.New("chain name required")
	case d.Currency.Symbol == "":
		return errors.New("native currency symbol required")
	case len(d.RPCURLs) == 0:
		return errors.New("at least one rpc url required")
	}
	return nil
}

// ExplorerTxURL 返回交易在区块浏览器上的地址，没有浏览器时返回空串
func (d ChainDefinition) ExplorerTxURL(hash common.Hash) string {
	if len(d.BlockExplorerURLs) == 0 {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", d.BlockExplorerURLs[0], hash.Hex())
}

// ChainFromConfig 从配置构造目标网络
func ChainFromConfig(c config.ChainConfig) ChainDefinition {
	def := ChainDefinition{
		ChainID: big.NewInt(c.ID),
		Name:    c.Name,
		Currency: NativeCurrency{
			Name:     c.CurrencyName,
			Symbol:   c.CurrencySymbol,
			Decimals: c.CurrencyDecimals,
		},
	}
	if c.RpcUrl != "" {
		def.RPCURLs = []string{c.RpcUrl}
	}
	if c.ExplorerUrl != "" {
		def.BlockExplorerURLs = []string{c.ExplorerUrl}
	}
	return def
}

type ChangeKind int

const (
	AccountChanged ChangeKind = iota + 1
	ChainChanged
	Disconnected
)

func (k ChangeKind) String() string {
	switch k {
	case AccountChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	case Disconnected:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Change 是钱包推送的状态变化
type Change struct {
	Kind    ChangeKind
	Account common.Address
	ChainID *big.Int
}

// Provider 是会话所依赖的钱包能力
type Provider interface {
	// Account 返回当前账户，钱包未连接时返回 CodeDisconnected
	Account(ctx context.Context) (common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	// SwitchChain 对应 wallet_switchEthereumChain，未知网络返回 CodeUnrecognizedChain
	SwitchChain(ctx context.Context, chainID *big.Int) error
	// AddChain 对应 wallet_addEthereumChain
	AddChain(ctx context.Context, def ChainDefinition) error
	SubscribeChanges(ch chan<- Change) event.Subscription
}

// Signer 为交易签名
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
