package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gec682416/onchain-random-game/pkg/logger"
)

// KafkaProducer 实现 Producer 接口
type KafkaProducer struct {
	writer       *kafka.Writer
	defaultTopic string
}

// NewKafkaProducer 创建 Kafka 生产者
// brokers: Kafka 节点地址列表 (e.g. ["localhost:9092"])
// topic: 调用方未指定主题时使用
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	// 1. Balancer: 指定 Key 后按 Key hash，保证同一下注的事件有序
	// 2. RequiredAcks: 等待所有 ISR 副本确认
	// Writer 不设置 Topic，由每条消息指定
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}

	return &KafkaProducer{
		writer:       writer,
		defaultTopic: topic,
	}
}

// Publish 发送消息到 Kafka
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if topic == "" {
		topic = p.defaultTopic
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Warn("Kafka 发送失败", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Close 关闭连接
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
