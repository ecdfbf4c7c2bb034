package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/utils/lock"
)

const sweepLockKey = "cron:lock:refund_sweep"

// RefundSweeper 发现当前会话可退款的下注
type RefundSweeper interface {
	Refundable(ctx context.Context, game ledger.Game) ([]Candidate, error)
}

// RefundEnqueuer 把退款交给后台 worker
type RefundEnqueuer interface {
	EnqueueRefund(key wager.Key) error
}

// CronService 周期性扫描卡住的下注
type CronService struct {
	cron     *cron.Cron
	locker   lock.DistributedLock
	sweeper  RefundSweeper
	enqueuer RefundEnqueuer
	spec     string
}

// NewCronService enqueuer 为 nil 时只标记 Stuck 并提示，不自动退款
func NewCronService(locker lock.DistributedLock, sweeper RefundSweeper, enqueuer RefundEnqueuer, spec string) *CronService {
	if spec == "" {
		spec = "@every 1m"
	}
	return &CronService{
		cron:     cron.New(),
		locker:   locker,
		sweeper:  sweeper,
		enqueuer: enqueuer,
		spec:     spec,
	}
}

func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.SweepStuck(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("Cron Service started", zap.String("sweep", s.spec))
	return nil
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// SweepStuck 扫描骰子和彩票，返回发现的候选数
func (s *CronService) SweepStuck(ctx context.Context) int {
	// 1. 获取分布式锁，防止多实例同时扫描
	locked, err := s.locker.Acquire(ctx, sweepLockKey, 30*time.Second)
	if err != nil || !locked {
		logger.Debug("SweepStuck: 获取锁失败或已有实例在运行", zap.Error(err))
		return 0
	}
	defer func() { _ = s.locker.Release(ctx, sweepLockKey) }()

	// 2. 扫描
	found := 0
	for _, game := range []ledger.Game{ledger.Dice, ledger.Lottery} {
		cands, err := s.sweeper.Refundable(ctx, game)
		if errors.Is(err, errno.ErrNoSession) {
			return found
		}
		if err != nil {
			logger.Warn("扫描可退款下注失败", zap.Stringer("game", game), zap.Error(err))
			continue
		}
		found += len(cands)

		// 3. 自动退款
		if s.enqueuer == nil {
			continue
		}
		for _, c := range cands {
			if err := s.enqueuer.EnqueueRefund(c.Key); err != nil {
				logger.Warn("退款任务排队失败", zap.Stringer("wager", c.Key), zap.Error(err))
			}
		}
	}
	if found > 0 {
		logger.Info("发现可退款下注", zap.Int("count", found))
	}
	return found
}
