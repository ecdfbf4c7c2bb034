package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gec682416/onchain-random-game/internal/model"
	"github.com/gec682416/onchain-random-game/internal/service/mq"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// RelayService 负责将本地消息表的消息搬运到 MQ
type RelayService struct {
	db          *gorm.DB
	producer    mq.Producer
	interval    time.Duration
	batch       int
	maxAttempts int
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:          db,
		producer:    producer,
		interval:    500 * time.Millisecond, // 500ms 轮询一次
		batch:       50,
		maxAttempts: 10,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("启动消息中继服务", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("消息中继服务已停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

// processPendingMessages 返回本轮成功投递的条数
func (s *RelayService) processPendingMessages(ctx context.Context) int {
	// 1. 获取一批 Pending 消息，按写入顺序投递
	var messages []model.OutboxMessage
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id ASC").
		Limit(s.batch).
		Find(&messages).Error; err != nil {
		logger.Error("查询 Outbox 消息失败", zap.Error(err))
		return 0
	}
	if len(messages) == 0 {
		return 0
	}

	sent := 0
	for _, msg := range messages {
		// 2. 发送 MQ，Key 保证同一下注的消息进入同一分区
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			s.markAttempt(ctx, msg, err)
			continue
		}

		// 3. 只有发送成功了才更新状态 => At-least-once，Consumer 需做好幂等
		if err := s.db.WithContext(ctx).Model(&msg).Updates(map[string]interface{}{
			"status":   model.OutboxSent,
			"attempts": msg.Attempts + 1,
		}).Error; err != nil {
			logger.Warn("更新 Outbox 状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	logger.Debug("Outbox 投递完成", zap.Int("sent", sent), zap.Int("batch", len(messages)))
	return sent
}

// markAttempt 记录失败次数，超过上限标记为 FAILED 不再重试
func (s *RelayService) markAttempt(ctx context.Context, msg model.OutboxMessage, cause error) {
	attempts := msg.Attempts + 1
	status := model.OutboxPending
	if attempts >= s.maxAttempts {
		status = model.OutboxFailed
	}
	logger.Warn("投递 Outbox 消息失败",
		zap.Uint64("id", msg.ID),
		zap.String("key", msg.Key),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	if err := s.db.WithContext(ctx).Model(&msg).Updates(map[string]interface{}{
		"status":   status,
		"attempts": attempts,
	}).Error; err != nil {
		logger.Warn("更新 Outbox 重试次数失败", zap.Uint64("id", msg.ID), zap.Error(err))
	}
}
