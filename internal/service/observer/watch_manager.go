package observer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
)

// WatchManager 实现 ResolutionObserver
// 核心设计:
// 1. 一个常驻订阅 goroutine 接收 DiceResolved / LotteryDrawn 事件
// 2. 每个 Pending 下注一个 goroutine，负责轮询和 180s 上限
// 3. 终态由 Registry 原子认领，谁先到谁生效，随后取消该下注的 goroutine
type WatchManager struct {
	src      Source
	registry *wager.Registry
	player   common.Address
	cfg      Config
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watches map[wager.Key]context.CancelFunc
	stopped bool
}

var _ ResolutionObserver = (*WatchManager)(nil)

// NewWatchManager 为一个会话创建观察者，player 是会话地址
func NewWatchManager(src Source, registry *wager.Registry, player common.Address, cfg Config) *WatchManager {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.PollRPS > 0 {
		limit = rate.Limit(cfg.PollRPS)
	}
	return &WatchManager{
		src:      src,
		registry: registry,
		player:   player,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.PollBurst),
		watches:  make(map[wager.Key]context.CancelFunc),
	}
}

func (m *WatchManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return errors.New("watch manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.subscribeLoop()
	return nil
}

func (m *WatchManager) Watch(key wager.Key) bool {
	m.mu.Lock()
	if m.ctx == nil || m.stopped {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.watches[key]; ok {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.watches[key] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	// 监听者在锁外执行
	w, err := m.registry.MarkPending(key)
	if err != nil {
		m.mu.Lock()
		delete(m.watches, key)
		m.mu.Unlock()
		cancel()
		m.wg.Done()
		logger.Warn("无法进入 Pending", zap.Stringer("wager", key), zap.Error(err))
		return false
	}

	monitor.Business.WatchStarted()
	go m.run(ctx, key, w.PendingAt)
	return true
}

func (m *WatchManager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *WatchManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

func (m *WatchManager) watching(key wager.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[key]
	return ok
}

// release 清除下注的定时器和轮询，可重复调用
func (m *WatchManager) release(key wager.Key) {
	m.mu.Lock()
	cancel, ok := m.watches[key]
	delete(m.watches, key)
	m.mu.Unlock()

	if ok {
		cancel()
		monitor.Business.WatchStopped()
	}
}

// run 是单个下注的轮询 + 超时循环
func (m *WatchManager) run(ctx context.Context, key wager.Key, pendingAt time.Time) {
	defer m.wg.Done()
	defer m.release(key)

	deadline := time.Now().Add(m.cfg.Ceiling)
	ceiling := time.NewTimer(m.cfg.Ceiling)
	defer ceiling.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ceiling.C:
			m.timeOut(key, pendingAt)
			return
		case <-ticker.C:
			if m.poll(ctx, key, pendingAt, deadline) {
				return
			}
		}
	}
}

// poll 读一次链上状态，已结算返回 true
// 限速等待不超过 deadline，超时定时器总能按时触发
func (m *WatchManager) poll(ctx context.Context, key wager.Key, pendingAt, deadline time.Time) bool {
	wctx, cancel := context.WithDeadline(ctx, deadline)
	err := m.limiter.Wait(wctx)
	cancel()
	if err != nil {
		return ctx.Err() != nil
	}
	if st, ok := m.registry.State(key); !ok || st != wager.Pending {
		return true
	}

	res, done, err := m.fetch(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// 单次失败不影响下一次轮询
		monitor.Business.PollError(key.Game.String())
		logger.Warn("轮询结算状态失败", zap.Stringer("wager", key), zap.Error(err))
		return false
	}
	if !done {
		return false
	}
	m.finish(key, res, wager.ChannelPoll, pendingAt)
	return true
}

func (m *WatchManager) fetch(ctx context.Context, key wager.Key) (ledger.Resolution, bool, error) {
	switch key.Game {
	case ledger.Dice:
		bet, err := m.src.GetBet(ctx, key.ID)
		if err != nil || !bet.Resolved {
			return ledger.Resolution{}, false, err
		}
		res := ledger.Resolution{Game: ledger.Dice, ID: key.ID, Player: bet.Player, Won: bet.Won, Roll: bet.Roll}
		if bet.Won {
			res.Payout = bet.PotentialPayout
		}
		return res, true, nil
	case ledger.Lottery:
		round, err := m.src.GetRound(ctx, key.ID)
		if err != nil || !round.Drawn {
			return ledger.Resolution{}, false, err
		}
		// 轮询拿不到扣除抽水后的派奖额，只报告中奖地址
		return ledger.Resolution{Game: ledger.Lottery, ID: key.ID, Winner: round.Winner}, true, nil
	default:
		return ledger.Resolution{}, false, errors.New("unknown game")
	}
}

// finish 认领 Resolved 并取消该下注的轮询和定时器
func (m *WatchManager) finish(key wager.Key, res ledger.Resolution, ch wager.Channel, pendingAt time.Time) {
	now := time.Now()
	if _, claimed := m.registry.Resolve(key, wager.OutcomeFromResolution(res, ch, now)); claimed {
		monitor.Business.Terminal(key.Game.String(), wager.Resolved.String())
		monitor.Business.Resolved(key.Game.String(), string(ch), now.Sub(pendingAt))
		logger.Info("下注已结算", zap.Stringer("wager", key), zap.String("channel", string(ch)), zap.Bool("won", res.Won))
	}
	m.release(key)
}

func (m *WatchManager) timeOut(key wager.Key, pendingAt time.Time) {
	if _, claimed := m.registry.TimeOut(key); claimed {
		monitor.Business.Terminal(key.Game.String(), wager.TimedOut.String())
		logger.Warn("等待随机数超时", zap.Stringer("wager", key), zap.Duration("waited", time.Since(pendingAt)))
	}
}

// ---------------------------------------------------------------------
// 常驻事件订阅
// ---------------------------------------------------------------------

func (m *WatchManager) subscribeLoop() {
	defer m.wg.Done()

	for {
		sink := make(chan ledger.Resolution, 16)
		sub, err := m.src.WatchResolutions(m.ctx, sink)
		if err != nil {
			logger.Warn("订阅结算事件失败，仅依赖轮询", zap.Error(err))
		} else {
			err = m.consume(sub, sink)
			sub.Unsubscribe()
			if m.ctx.Err() != nil {
				return
			}
			logger.Warn("结算事件订阅断开", zap.Error(err))
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.cfg.Resubscribe):
		}
	}
}

func (m *WatchManager) consume(sub interface{ Err() <-chan error }, sink <-chan ledger.Resolution) error {
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case res := <-sink:
			m.handleEvent(res)
		}
	}
}

// handleEvent 只处理本会话正在观察的下注，骰子还要求玩家是会话地址
func (m *WatchManager) handleEvent(res ledger.Resolution) {
	if m.ctx.Err() != nil {
		return
	}
	key := wager.Key{Game: res.Game, ID: res.ID}
	if res.Game == ledger.Dice && res.Player != m.player {
		return
	}
	if !m.watching(key) {
		return
	}
	w, ok := m.registry.Get(key)
	if !ok || w.State != wager.Pending {
		return
	}
	m.finish(key, res, wager.ChannelEvent, w.PendingAt)
}
