package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/model"
	"payment-core/pkg/errno"
)

func TestQueuePriorityOrdering(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	// 同时入队，优先级决定顺序
	require.NoError(t, q.Enqueue(paymentReq("low", eth(1), model.PriorityLow)))
	require.NoError(t, q.Enqueue(paymentReq("critical", eth(1), model.PriorityCritical)))
	require.NoError(t, q.Enqueue(paymentReq("normal", eth(1), model.PriorityNormal)))

	assert.Equal(t, "critical", q.Dequeue().Request.ID)
	assert.Equal(t, "normal", q.Dequeue().Request.ID)
	assert.Equal(t, "low", q.Dequeue().Request.ID)
	assert.Nil(t, q.Dequeue())
}

func TestQueueFIFOWithinSamePriority(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(paymentReq(id, eth(1), model.PriorityNormal)))
	}

	assert.Equal(t, "a", q.Dequeue().Request.ID)
	assert.Equal(t, "b", q.Dequeue().Request.ID)
	assert.Equal(t, "c", q.Dequeue().Request.ID)
}

func TestQueueAmountBoostsScore(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	// 同优先级下大额靠前 (log10(1000)*2 = 6 分差)
	require.NoError(t, q.Enqueue(paymentReq("small", eth(1), model.PriorityNormal)))
	require.NoError(t, q.Enqueue(paymentReq("big", eth(1000), model.PriorityNormal)))

	assert.Equal(t, "big", q.Dequeue().Request.ID)
}

func TestQueueFull(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(2, nil, clock)

	require.NoError(t, q.Enqueue(paymentReq("a", eth(1), model.PriorityNormal)))
	require.NoError(t, q.Enqueue(paymentReq("b", eth(1), model.PriorityNormal)))

	err := q.Enqueue(paymentReq("c", eth(1), model.PriorityNormal))
	assert.ErrorIs(t, err, errno.ErrQueueFull)
	assert.Equal(t, 2, q.Size())
}

func TestQueueAgingPreventsStarvation(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	// 低优先级先入队，陈化超过 high/low 的权重差后反超
	require.NoError(t, q.Enqueue(paymentReq("old_low", eth(1), model.PriorityLow)))
	clock.Advance(100 * time.Second)
	require.NoError(t, q.Enqueue(paymentReq("fresh_normal", eth(1), model.PriorityNormal)))

	q.Reprioritize()

	// low: 1 + 100 = 101 > normal: 10 + 0 = 10
	assert.Equal(t, "old_low", q.Dequeue().Request.ID)
}

func TestQueueAgeBonusCapped(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	require.NoError(t, q.Enqueue(paymentReq("ancient_low", eth(1), model.PriorityLow)))
	clock.Advance(24 * time.Hour)
	require.NoError(t, q.Enqueue(paymentReq("fresh_critical", eth(1), model.PriorityCritical)))

	q.Reprioritize()

	// 年龄加分封顶 100: low 最多 1+100=101，critical 的 1000 不可能被反超
	assert.Equal(t, "fresh_critical", q.Dequeue().Request.ID)
}

func TestQueueDequeueBatch(t *testing.T) {
	clock := newFakeClock()
	q := NewPaymentQueue(100, nil, clock)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(paymentReq(id, eth(1), model.PriorityNormal)))
	}

	batch := q.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Request.ID)
	assert.Equal(t, "b", batch[1].Request.ID)
	assert.Equal(t, 1, q.Size())

	// 超过剩余数量时全部取出
	rest := q.DequeueBatch(10)
	assert.Len(t, rest, 1)
	assert.Equal(t, 0, q.Size())
}
