package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageCarriesTopic(t *testing.T) {
	// 三类事件共用一个 Writer，主题必须逐条携带而不是钉死在 Writer 上
	for _, topic := range []string{"payment_events", "fee_events", "distribution_events"} {
		msg := newMessage(topic, "batch_1", []byte(`{"ok":true}`))
		assert.Equal(t, topic, msg.Topic)
		assert.Equal(t, []byte("batch_1"), msg.Key)
		assert.Equal(t, []byte(`{"ok":true}`), msg.Value)
	}
}

func TestKafkaWriterTopicUnset(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"})
	defer p.Close()

	// Writer.Topic 设了值时 kafka-go 会拒绝带 Topic 的消息
	assert.Empty(t, p.writer.Topic)
}
