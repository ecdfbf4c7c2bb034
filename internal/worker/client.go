package worker

import (
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/internal/wager"
	"github.com/gec682416/onchain-random-game/internal/worker/tasks"
	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// Client 封装 Asynq Client
type Client struct {
	client *asynq.Client
}

// NewClient 初始化 Client
// addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

// Enqueue 将任务推送到队列
func (c *Client) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.Enqueue(task, opts...)
}

// EnqueueRefund 排队一笔退款，已在队列中时视为成功
func (c *Client) EnqueueRefund(key wager.Key) error {
	task, err := tasks.NewRefundTask(key)
	if err != nil {
		return err
	}
	info, err := c.client.Enqueue(task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Debug("退款任务已在队列中", zap.Stringer("wager", key))
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("退款任务已排队", zap.Stringer("wager", key), zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
