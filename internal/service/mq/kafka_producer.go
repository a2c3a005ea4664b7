package mq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer 实现 Producer 接口
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer 创建 Kafka 生产者
// brokers: Kafka 节点地址列表 (e.g. ["localhost:9092"])
// 主题按消息设置 (payment_events / fee_events / distribution_events 共用一个 Writer)，
// Writer.Topic 必须留空，否则 kafka-go 拒绝带 Topic 的消息
func NewKafkaProducer(brokers []string) *KafkaProducer {
	// 关键配置:
	// 1. Balancer: 按 Key 哈希，保证同一笔交易的事件有序
	// 2. RequiredAcks: 等待所有 ISR 副本确认
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true, // 开发环境允许自动创建 Topic
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}

	return &KafkaProducer{
		writer: writer,
	}
}

// newMessage 组装一条待发送消息，主题跟随调用方给的 topic
func newMessage(topic string, key string, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Value: payload,
		Key:   []byte(key), // 使用传入的 Key 保证分区有序
	}
}

// Publish 发送消息到 Kafka
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	msg := newMessage(topic, key, payload)

	// 底层是异步批量的，但在 Writer 层面阻塞等待 Ack
	err := p.writer.WriteMessages(ctx, msg)
	if err != nil {
		log.Printf("[Kafka] Publish Error: %v", err)
		return fmt.Errorf("kafka write error: %w", err)
	}

	return nil
}

// Close 关闭连接
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
