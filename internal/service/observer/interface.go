package observer

import (
	"context"
	"time"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
)

// ResolutionObserver 观察一个会话内等待随机数的下注
type ResolutionObserver interface {
	// Start 建立常驻事件订阅，ctx 结束时自动停止
	Start(ctx context.Context) error

	// Watch 把 Submitted 的下注转为 Pending 并开始轮询
	Watch(key wager.Key) bool

	// Stop 取消全部观察并等待 goroutine 退出
	Stop() error

	// Active 返回正在观察的下注数
	Active() int
}

// Source 是观察者需要的账本能力
type Source interface {
	GetBet(ctx context.Context, id uint64) (ledger.DiceBet, error)
	GetRound(ctx context.Context, id uint64) (ledger.LotteryRound, error)
	ledger.EventSource
}

type Config struct {
	// PollInterval 轮询间隔，默认 3s
	PollInterval time.Duration
	// Ceiling 从 Pending 起最长等待，默认 180s
	Ceiling time.Duration
	// PollRPS / PollBurst 限制所有观察共享的轮询速率，0 表示不限
	PollRPS   float64
	PollBurst int
	// Resubscribe 事件订阅断开后的重连间隔
	Resubscribe time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 180 * time.Second
	}
	if c.PollBurst <= 0 {
		c.PollBurst = 1
	}
	if c.Resubscribe <= 0 {
		c.Resubscribe = 5 * time.Second
	}
	return c
}
