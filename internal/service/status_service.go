package service

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/pkg/cache"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

const statusCacheKey = "status:snapshot"

// Snapshot 是合约状态面板，金额为 ether 字符串
type Snapshot struct {
	Contract       string    `json:"contract"`
	Balance        string    `json:"balance"`
	HouseEdgeBps   uint16    `json:"house_edge_bps"`
	TokenEnabled   bool      `json:"token_enabled"`
	MinBet         string    `json:"min_bet"`
	MaxBet         string    `json:"max_bet"`
	LockedFunds    string    `json:"locked_funds"`
	NextDiceID     uint64    `json:"next_dice_id"`
	NextLotteryID  uint64    `json:"next_lottery_id"`
	VRFKeyHash     string    `json:"vrf_key_hash"`
	VRFSubID       string    `json:"vrf_subscription_id"`
	VRFCallbackGas uint32    `json:"vrf_callback_gas_limit"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StatusService 并发读取合约状态，任意一项失败则保留上一次快照
type StatusService struct {
	reader   ledger.Reader
	contract common.Address
	token    common.Address
	cache    cache.Cache
	ttl      time.Duration

	mu   sync.RWMutex
	last *Snapshot
}

func NewStatusService(reader ledger.Reader, contract, token common.Address, c cache.Cache) *StatusService {
	return &StatusService{
		reader:   reader,
		contract: contract,
		token:    token,
		cache:    c,
		ttl:      time.Minute,
	}
}

// Refresh 读取全部字段，成功才替换快照
func (s *StatusService) Refresh(ctx context.Context) (Snapshot, error) {
	var (
		balance, locked *big.Int
		edge            uint16
		tokenCfg        ledger.TokenConfig
		nextDice        uint64
		nextLottery     uint64
		vrf             ledger.VRFConfig
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { balance, err = s.reader.TreasuryBalance(gctx); return })
	g.Go(func() (err error) { edge, err = s.reader.HouseEdgeBps(gctx); return })
	g.Go(func() (err error) { tokenCfg, err = s.reader.TokenConfig(gctx, s.token); return })
	g.Go(func() (err error) { locked, err = s.reader.LockedFunds(gctx, s.token); return })
	g.Go(func() (err error) { nextDice, err = s.reader.NextDiceID(gctx); return })
	g.Go(func() (err error) { nextLottery, err = s.reader.NextLotteryID(gctx); return })
	g.Go(func() (err error) { vrf, err = s.reader.VRFConfig(gctx); return })

	if err := g.Wait(); err != nil {
		monitor.Business.StatusRefresh("failed")
		logger.Warn("刷新合约状态失败，保留上一次快照", zap.Error(err))
		prev, _ := s.Snapshot(ctx)
		return prev, err
	}

	snap := Snapshot{
		Contract:       s.contract.Hex(),
		Balance:        units.FormatEther(balance),
		HouseEdgeBps:   edge,
		TokenEnabled:   tokenCfg.Enabled,
		MinBet:         units.FormatEther(tokenCfg.MinBet),
		MaxBet:         units.FormatEther(tokenCfg.MaxBet),
		LockedFunds:    units.FormatEther(locked),
		NextDiceID:     nextDice,
		NextLotteryID:  nextLottery,
		VRFKeyHash:     vrf.KeyHash.Hex(),
		VRFCallbackGas: vrf.CallbackGasLimit,
		UpdatedAt:      time.Now(),
	}
	if vrf.SubscriptionID != nil {
		snap.VRFSubID = vrf.SubscriptionID.String()
	}

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, statusCacheKey, snap, s.ttl); err != nil {
			logger.Warn("写入状态缓存失败", zap.Error(err))
		}
	}
	monitor.Business.StatusRefresh("ok")
	return snap, nil
}

// Snapshot 返回最近一次成功的快照，进程内没有时尝试读缓存
func (s *StatusService) Snapshot(ctx context.Context) (Snapshot, bool) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last != nil {
		return *last, true
	}
	if s.cache == nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := s.cache.Get(ctx, statusCacheKey, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
