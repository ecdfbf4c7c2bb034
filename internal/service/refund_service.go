package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
	"github.com/gec682416/onchain-random-game/pkg/monitor"
	"github.com/gec682416/onchain-random-game/pkg/units"
)

// Candidate 是满足退款条件的下注
type Candidate struct {
	Key        wager.Key `json:"key"`
	Player     string    `json:"player"`
	Stake      string    `json:"stake,omitempty"`
	EligibleAt time.Time `json:"eligible_at"`
	Reason     string    `json:"reason"`
}

// NetworkGuard 写操作前确保钱包在目标网络
type NetworkGuard interface {
	EnsureNetwork(ctx context.Context) error
}

// RefundService 发现并执行卡住下注的退款
// 骰子: 下注后 24h 仍未结算; 彩票: 结束 7d 后仍未开奖
type RefundService struct {
	ledger       ledger.Ledger
	guard        NetworkGuard
	diceAfter    time.Duration
	lotteryAfter time.Duration
	now          func() time.Time
}

func NewRefundService(l ledger.Ledger, g NetworkGuard, diceAfter, lotteryAfter time.Duration) *RefundService {
	if diceAfter <= 0 {
		diceAfter = 24 * time.Hour
	}
	if lotteryAfter <= 0 {
		lotteryAfter = 7 * 24 * time.Hour
	}
	return &RefundService{
		ledger:       l,
		guard:        g,
		diceAfter:    diceAfter,
		lotteryAfter: lotteryAfter,
		now:          time.Now,
	}
}

// Discover 列出 player 当前可以退款的下注
func (s *RefundService) Discover(ctx context.Context, player common.Address, game ledger.Game) ([]Candidate, error) {
	switch game {
	case ledger.Dice:
		return s.discoverDice(ctx, player)
	case ledger.Lottery:
		return s.discoverLottery(ctx, player)
	default:
		return nil, errno.ErrBind.WithMessage(fmt.Sprintf("unknown game %d", game))
	}
}

func (s *RefundService) discoverDice(ctx context.Context, player common.Address) ([]Candidate, error) {
	ids, err := s.ledger.ListRefundableBets(ctx, player)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		bet, err := s.ledger.GetBet(ctx, id)
		if err != nil {
			return nil, err
		}
		if bet.Resolved || bet.Refunded || bet.Player != player {
			continue
		}
		eligibleAt := bet.CreatedAt.Add(s.diceAfter)
		if now.Before(eligibleAt) {
			continue
		}
		out = append(out, Candidate{
			Key:        wager.Key{Game: ledger.Dice, ID: id},
			Player:     player.Hex(),
			Stake:      units.FormatEther(bet.Stake),
			EligibleAt: eligibleAt,
			Reason:     fmt.Sprintf("unresolved for more than %s", humanDuration(s.diceAfter)),
		})
	}
	return out, nil
}

func (s *RefundService) discoverLottery(ctx context.Context, player common.Address) ([]Candidate, error) {
	ids, err := s.ledger.ListActiveRounds(ctx, player)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		round, err := s.ledger.GetRound(ctx, id)
		if err != nil {
			return nil, err
		}
		if round.Drawn || round.Refunded {
			continue
		}
		eligibleAt := round.EndTime.Add(s.lotteryAfter)
		if now.Before(eligibleAt) {
			continue
		}
		out = append(out, Candidate{
			Key:        wager.Key{Game: ledger.Lottery, ID: id},
			Player:     player.Hex(),
			EligibleAt: eligibleAt,
			Reason:     fmt.Sprintf("undrawn %s after end time", humanDuration(s.lotteryAfter)),
		})
	}
	return out, nil
}

// Refund 先过网络守卫，再提交退款交易
func (s *RefundService) Refund(ctx context.Context, key wager.Key) (*ledger.Receipt, error) {
	if err := s.guard.EnsureNetwork(ctx); err != nil {
		monitor.Business.Refund(key.Game.String(), "guard_failed")
		return nil, err
	}

	var (
		rec *ledger.Receipt
		err error
	)
	switch key.Game {
	case ledger.Dice:
		rec, err = s.ledger.RefundStuckBet(ctx, key.ID)
	case ledger.Lottery:
		rec, err = s.ledger.ClaimLotteryRefund(ctx, key.ID)
	default:
		return nil, errno.ErrNotRefundable
	}
	if err != nil {
		monitor.Business.Refund(key.Game.String(), "failed")
		logger.Warn("退款失败", zap.Stringer("wager", key), zap.Error(err))
		return nil, err
	}

	monitor.Business.Refund(key.Game.String(), "ok")
	logger.Info("退款成功", zap.Stringer("wager", key), zap.String("tx", rec.TxHash.Hex()))
	return rec, nil
}

func humanDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24h"
		}
		return fmt.Sprintf("%dd", days)
	}
	return d.String()
}
