// Package bootstrap 按配置组装存储、钱包、账本和编排服务，供 wager-server 与 wager-cli 共用
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gec682416/onchain-random-game/internal/guard"
	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/ledger/simulated"
	"github.com/gec682416/onchain-random-game/internal/model"
	"github.com/gec682416/onchain-random-game/internal/service"
	"github.com/gec682416/onchain-random-game/internal/service/mq"
	"github.com/gec682416/onchain-random-game/internal/service/observer"
	"github.com/gec682416/onchain-random-game/internal/wallet"
	"github.com/gec682416/onchain-random-game/internal/worker"
	"github.com/gec682416/onchain-random-game/pkg/cache"
	"github.com/gec682416/onchain-random-game/pkg/config"
	"github.com/gec682416/onchain-random-game/pkg/database"
	"github.com/gec682416/onchain-random-game/pkg/keystore"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/utils/lock"
)

var ErrNoWallet = errors.New("no mnemonic configured and keystore could not be opened")

// Components 是组装好的依赖，Close 按创建的逆序释放
type Components struct {
	Config config.Config

	DB       *gorm.DB
	Redis    *redis.Client
	Cache    cache.Cache
	Locker   lock.DistributedLock
	Producer mq.Producer

	Target    wallet.ChainDefinition
	Provider  *wallet.LocalProvider
	Guard     *guard.Guard
	Ledger    ledger.Ledger
	Simulated *simulated.Contract

	History *service.HistoryService
	Status  *service.StatusService
	Refunds *service.RefundService
	Wagers  *service.WagerService
	Worker  *worker.Client

	closers []func()
}

func (c *Components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close 释放全部资源
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build 组装全部组件；任何一步失败都会释放已创建的资源
func Build(ctx context.Context, cfg config.Config) (*Components, error) {
	c := &Components{Config: cfg}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context) error {
	cfg := c.Config

	// 1. 数据库
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	c.DB = db
	c.onClose(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if cfg.App.Env == "development" || cfg.DB.Driver == "sqlite" {
		logger.Info("开发环境: 自动迁移 Schema (GORM AutoMigrate)")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
	}

	// 2. Redis 是可选的，没有时退化为进程内缓存和本地锁
	local := cache.NewMemoryCache(time.Minute, 5*time.Minute)
	c.Cache = local
	c.Locker = lock.NewLocalLock()
	if cfg.Redis.Enabled {
		rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		c.Redis = rdb
		c.onClose(func() { _ = rdb.Close() })
		c.Cache = cache.NewMultiLevelCache(local, cache.NewRedisCache(rdb))
		c.Locker = lock.NewRedisLock(rdb)
	}

	// 3. 消息队列
	switch {
	case cfg.Redis.MQType == "kafka":
		logger.Info("使用 Kafka 作为消息队列", zap.Strings("brokers", cfg.Kafka.Brokers))
		p := mq.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		c.Producer = p
		c.onClose(func() { _ = p.Close() })
	case c.Redis != nil:
		logger.Info("使用 Redis Streams 作为消息队列")
		c.Producer = mq.NewRedisProducer(c.Redis)
	default:
		logger.Warn("未配置消息队列，outbox 只落库不投递")
	}

	// 4. 钱包
	mnemonic, err := LoadMnemonic(cfg.Wallet)
	if err != nil {
		return err
	}
	c.Target = wallet.ChainFromConfig(cfg.Chain)
	opts := []wallet.LocalOption{
		wallet.WithKnownChain(c.Target),
		wallet.WithAutoApprove(cfg.Wallet.AutoApprove),
	}
	if cfg.Contract.Mode != "simulated" {
		opts = append(opts, wallet.WithDialer(wallet.DialEthereum))
	}
	provider, err := wallet.NewLocalProviderFromMnemonic(mnemonic, "", cfg.Wallet.DerivationPath, cfg.Wallet.Accounts, c.Target.ChainID, opts...)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	c.Provider = provider
	c.Guard = guard.New(provider, c.Target)

	// 5. 账本
	if err := c.buildLedger(ctx); err != nil {
		return err
	}

	// 6. 编排服务
	token := common.HexToAddress(cfg.Contract.DefaultToken)
	contract := common.HexToAddress(cfg.Contract.Address)
	c.History = service.NewHistoryService(db)
	c.Status = service.NewStatusService(c.Ledger, contract, token, c.Cache)
	c.Refunds = service.NewRefundService(c.Ledger, c.Guard, cfg.Refund.DiceAfter, cfg.Refund.LotteryAfter)
	c.Wagers = service.NewWagerService(service.WagerDeps{
		Provider: provider,
		Guard:    c.Guard,
		Ledger:   c.Ledger,
		Status:   c.Status,
		Refunds:  c.Refunds,
		History:  c.History,
		Token:    token,
		Watch: observer.Config{
			PollInterval: cfg.Watcher.PollInterval,
			Ceiling:      cfg.Watcher.Ceiling,
			PollRPS:      cfg.Watcher.PollRPS,
			PollBurst:    cfg.Watcher.PollBurst,
			Resubscribe:  cfg.Watcher.Resubscribe,
		},
	})
	c.onClose(c.Wagers.Close)

	// 7. 后台退款任务
	if cfg.Worker.Enabled && c.Redis != nil {
		wc := worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		c.Worker = wc
		c.onClose(func() { _ = wc.Close() })
	}
	return nil
}

func (c *Components) buildLedger(ctx context.Context) error {
	cfg := c.Config
	contract := common.HexToAddress(cfg.Contract.Address)

	if cfg.Contract.Mode == "simulated" {
		logger.Warn("使用进程内模拟合约，结果不上链", zap.Duration("auto_fulfill", cfg.Contract.AutoFulfill))
		sim := simulated.New(contract,
			simulated.WithHouseEdge(cfg.Contract.HouseEdgeBps),
			simulated.WithRefundWindows(cfg.Refund.DiceAfter, cfg.Refund.LotteryAfter),
			simulated.WithAutoFulfill(cfg.Contract.AutoFulfill),
		)
		c.Simulated = sim
		c.Ledger = sim.BindFunc(func() (common.Address, error) {
			return c.Provider.Account(context.Background())
		})
		return nil
	}

	// 事件订阅需要 websocket，没有配置时退回 http 并依赖轮询
	url := cfg.Chain.WsUrl
	if url == "" {
		url = cfg.Chain.RpcUrl
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	c.onClose(client.Close)

	got, err := client.ChainID(dialCtx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if got.Cmp(big.NewInt(cfg.Chain.ID)) != 0 {
		return fmt.Errorf("rpc %s serves chain %s, want %d", url, got, cfg.Chain.ID)
	}
	logger.Info("RPC 连接成功", zap.String("url", url), zap.String("chain_id", got.String()))

	c.Ledger = ledger.NewClient(client, contract, got,
		ledger.WithSigner(c.Provider.Signer),
		ledger.WithConfirmation(cfg.Contract.ConfirmPoll, cfg.Contract.ConfirmWithin),
	)
	return nil
}

// LoadMnemonic 优先使用明文助记词 (仅开发)，否则用密码解密 keystore
func LoadMnemonic(cfg config.WalletConfig) (string, error) {
	if cfg.Mnemonic != "" {
		logger.Warn("使用配置中的明文助记词，仅限开发环境")
		return cfg.Mnemonic, nil
	}
	if cfg.KeystorePath == "" {
		return "", ErrNoWallet
	}
	mnemonic, err := keystore.Open(cfg.KeystorePath, cfg.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoWallet, err)
	}
	return mnemonic, nil
}
