package event

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"payment-core/internal/service/mq"
	"payment-core/pkg/logger"
)

// Bus 组件在构造时拿到的事件出口
// 每个组件发布什么事件在各自的契约里写明，避免共享无类型总线带来的隐式耦合
type Bus interface {
	// Publish 发布事件，异步路径的失败只记日志，绝不反向打断业务流程
	Publish(ctx context.Context, topic string, key string, evt interface{})
}

// MQBus 通过 mq.Producer (Kafka / Redis Streams) 对外发布 JSON 事件
type MQBus struct {
	producer mq.Producer
}

func NewMQBus(producer mq.Producer) *MQBus {
	return &MQBus{producer: producer}
}

func (b *MQBus) Publish(ctx context.Context, topic string, key string, evt interface{}) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Error("事件序列化失败", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := b.producer.Publish(ctx, topic, key, payload); err != nil {
		logger.Error("事件发布失败", zap.String("topic", topic), zap.Error(err))
	}
}

// Published 记录一条已发布事件 (内存实现使用)
type Published struct {
	Topic string
	Key   string
	Event interface{}
}

// MemoryBus 进程内事件记录器
// 未配置 MQ 时兜底使用，测试里用它断言组件发布了什么
type MemoryBus struct {
	mu     sync.Mutex
	events []Published
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, key string, evt interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Published{Topic: topic, Key: key, Event: evt})
}

// Events 返回已发布事件的快照
func (b *MemoryBus) Events() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.events))
	copy(out, b.events)
	return out
}

// ByTopic 按主题过滤
func (b *MemoryBus) ByTopic(topic string) []Published {
	var out []Published
	for _, e := range b.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
