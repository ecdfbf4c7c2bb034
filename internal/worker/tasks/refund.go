package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/ledger"
	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/pkg/errno"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// 任务类型常量
const (
	TypeRefundExecute = "refund:execute"
)

// RefundPayload 退款任务参数
type RefundPayload struct {
	Game ledger.Game `json:"game"`
	ID   uint64      `json:"id"`
}

func (p RefundPayload) Key() wager.Key {
	return wager.Key{Game: p.Game, ID: p.ID}
}

// Refunder 执行一笔退款
type Refunder interface {
	Refund(ctx context.Context, key wager.Key) (*ledger.Receipt, error)
}

// ---------------------------------------------------------------------
// 1. Producer (Client) Code
// ---------------------------------------------------------------------

// NewRefundTask 创建退款任务，TaskID 保证同一下注只排队一次
func NewRefundTask(key wager.Key) (*asynq.Task, error) {
	payload, err := json.Marshal(RefundPayload{Game: key.Game, ID: key.ID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefundExecute, payload,
		asynq.TaskID("refund:"+key.String()),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// ---------------------------------------------------------------------
// 2. Consumer (Server) Code
// ---------------------------------------------------------------------

// RefundHandler 处理退款任务
type RefundHandler struct {
	refunder Refunder
}

func NewRefundHandler(r Refunder) *RefundHandler {
	return &RefundHandler{refunder: r}
}

func (h *RefundHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RefundPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// JSON 解析失败，重试也没用，直接进入 Archived 队列
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	key := p.Key()

	logger.Info("开始处理退款任务", zap.Stringer("wager", key))
	rec, err := h.refunder.Refund(ctx, key)
	if err != nil {
		// 合约拒绝 (已结算、已退款、未到期) 重试也不会成功
		if errors.Is(err, errno.ErrSubmissionRejected) || errors.Is(err, errno.ErrNotRefundable) {
			logger.Warn("退款被拒绝，不再重试", zap.Stringer("wager", key), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		// busy、网络、钱包错误交给 asynq 重试
		return err
	}

	logger.Info("退款任务完成", zap.Stringer("wager", key), zap.String("tx", rec.TxHash.Hex()))
	return nil
}
