package mq

import "context"

// Message 代表一条通用的业务消息
type Message struct {
	ID       string            // 消息ID (例如 Redis Stream ID)
	Topic    string            // 主题 (例如 "payment_events")
	Key      string            // 分区键 (例如 TransactionID), 同样用于 Kafka Partition
	Payload  []byte            // 消息体 (JSON)
	Metadata map[string]string // 元数据
}

// Producer 生产者接口
// 消费侧 (webhook / 通知服务) 不在本服务内，这里只定义发布端
type Producer interface {
	// Publish 发送消息
	// key: 用于分区排序 (Partition Key), 例如 TransactionID. 传空字符串则随机分区.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}
