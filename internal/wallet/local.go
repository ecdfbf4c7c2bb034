package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/pkg/hdwallet"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// ChainIDReader 是切换网络时用来核对 RPC 的最小接口
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

type Dialer func(ctx context.Context, rawurl string) (ChainIDReader, error)

// DialEthereum 使用 ethclient 连接 RPC
func DialEthereum(ctx context.Context, rawurl string) (ChainIDReader, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// LocalProvider 是进程内的钱包，用本地私钥签名，并像浏览器钱包一样维护已知网络列表
type LocalProvider struct {
	mu          sync.RWMutex
	keys        []*ecdsa.PrivateKey
	active      int
	connected   bool
	chainID     *big.Int
	chains      map[string]ChainDefinition
	dial        Dialer
	autoApprove bool

	feed event.Feed
}

type LocalOption func(*LocalProvider)

// WithDialer 在切换/添加网络时核对 RPC 返回的 chain id
func WithDialer(d Dialer) LocalOption {
	return func(p *LocalProvider) { p.dial = d }
}

// WithAutoApprove 为 false 时，切换与添加网络都按用户拒绝 (4001) 处理
func WithAutoApprove(v bool) LocalOption {
	return func(p *LocalProvider) { p.autoApprove = v }
}

func WithKnownChain(def ChainDefinition) LocalOption {
	return func(p *LocalProvider) { p.chains[def.ChainID.String()] = def }
}

// NewLocalProvider 以 initial 为当前网络创建钱包，initial 视为已知网络
func NewLocalProvider(keys []*ecdsa.PrivateKey, initial *big.Int, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		keys:        keys,
		connected:   len(keys) > 0,
		chainID:     new(big.Int).Set(initial),
		chains:      make(map[string]ChainDefinition),
		autoApprove: true,
	}
	p.chains[initial.String()] = ChainDefinition{ChainID: new(big.Int).Set(initial)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewLocalProviderFromMnemonic 从助记词派生 accounts 个账户
func NewLocalProviderFromMnemonic(mnemonic, passphrase, basePath string, accounts int, initial *big.Int, opts ...LocalOption) (*LocalProvider, error) {
	hd, err := hdwallet.FromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	if accounts < 1 {
		accounts = 1
	}
	keys := make([]*ecdsa.PrivateKey, 0, accounts)
	for i := 0; i < accounts; i++ {
		key, addr, err := hd.Account(basePath, uint32(i))
		if err != nil {
			return nil, err
		}
		logger.Debug("派生账户", zap.Int("index", i), zap.String("address", addr.Hex()))
		keys = append(keys, key)
	}
	return NewLocalProvider(keys, initial, opts...), nil
}

func (p *LocalProvider) Account(ctx context.Context) (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return common.Address{}, &ProviderError{Code: CodeDisconnected, Message: "wallet not connected"}
	}
	return crypto.PubkeyToAddress(p.keys[p.active].PublicKey), nil
}

// Accounts 返回全部派生账户
func (p *LocalProvider) Accounts() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]common.Address, len(p.keys))
	for i, k := range p.keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

func (p *LocalProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return nil, &ProviderError{Code: CodeDisconnected, Message: "wallet not connected"}
	}
	return new(big.Int).Set(p.chainID), nil
}

func (p *LocalProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	p.mu.RLock()
	connected := p.connected
	same := p.chainID.Cmp(chainID) == 0
	def, known := p.chains[chainID.String()]
	approve := p.autoApprove
	p.mu.RUnlock()

	switch {
	case !connected:
		return &ProviderError{Code: CodeDisconnected, Message: "wallet not connected"}
	case same:
		return nil
	case !known:
		return &ProviderError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain id 0x%x", chainID)}
	case !approve:
		return &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}

	if err := p.verifyRPC(ctx, def); err != nil {
		return err
	}

	p.mu.Lock()
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()

	logger.Info("钱包已切换网络", zap.String("chain_id", chainID.String()))
	p.feed.Send(Change{Kind: ChainChanged, ChainID: new(big.Int).Set(chainID)})
	return nil
}

func (p *LocalProvider) AddChain(ctx context.Context, def ChainDefinition) error {
	if err := def.Validate(); err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	p.mu.RLock()
	approve := p.autoApprove
	p.mu.RUnlock()
	if !approve {
		return &ProviderError{Code: CodeUserRejected, Message: "user rejected the request"}
	}

	if err := p.verifyRPC(ctx, def); err != nil {
		return err
	}

	p.mu.Lock()
	p.chains[def.ChainID.String()] = def
	p.mu.Unlock()
	logger.Info("钱包已添加网络", zap.String("chain", def.Name), zap.String("chain_id", def.HexID()))
	return nil
}

// SelectAccount 切换当前账户
func (p *LocalProvider) SelectAccount(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.keys) {
		p.mu.Unlock()
		return fmt.Errorf("account index %d out of range", index)
	}
	if index == p.active && p.connected {
		p.mu.Unlock()
		return nil
	}
	p.active = index
	p.connected = true
	addr := crypto.PubkeyToAddress(p.keys[index].PublicKey)
	p.mu.Unlock()

	p.feed.Send(Change{Kind: AccountChanged, Account: addr})
	return nil
}

// Disconnect 模拟用户在钱包里断开站点
func (p *LocalProvider) Disconnect() {
	p.mu.Lock()
	was := p.connected
	p.connected = false
	p.mu.Unlock()
	if was {
		p.feed.Send(Change{Kind: Disconnected})
	}
}

func (p *LocalProvider) SubscribeChanges(ch chan<- Change) event.Subscription {
	return p.feed.Subscribe(ch)
}

// Signer 返回当前账户的签名器
func (p *LocalProvider) Signer() (Signer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return nil, &ProviderError{Code: CodeDisconnected, Message: "wallet not connected"}
	}
	return &keySigner{key: p.keys[p.active]}, nil
}

func (p *LocalProvider) verifyRPC(ctx context.Context, def ChainDefinition) error {
	if p.dial == nil || len(def.RPCURLs) == 0 {
		return nil
	}
	client, err := p.dial(ctx, def.RPCURLs[0])
	if err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: fmt.Sprintf("rpc unreachable: %v", err)}
	}
	if c, ok := client.(interface{ Close() }); ok {
		defer c.Close()
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: fmt.Sprintf("rpc chain id: %v", err)}
	}
	if remote.Cmp(def.ChainID) != 0 {
		return &ProviderError{Code: CodeInvalidParams, Message: fmt.Sprintf("rpc reports chain %s, want %s", remote, def.ChainID)}
	}
	return nil
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

func (s *keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// NewKeySigner 用单个私钥构造签名器
func NewKeySigner(key *ecdsa.PrivateKey) Signer {
	return &keySigner{key: key}
}
