package service

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
	"payment-core/pkg/errno"
)

var oneEther = decimal.New(1, 18)

// PaymentQueue 按优先级分数降序排列的有界准入缓冲
// 本身不做并发保护，由持有它的 Processor 统一串行化 (入队路径单锁，操作都是 O(log n)/O(k) 的短临界区)
type PaymentQueue struct {
	entries []*model.QueueEntry
	maxSize int
	weights map[model.Priority]float64
	clock   Clock
}

func NewPaymentQueue(maxSize int, weights map[model.Priority]float64, clock Clock) *PaymentQueue {
	if weights == nil {
		weights = map[model.Priority]float64{
			model.PriorityLow:      1,
			model.PriorityNormal:   10,
			model.PriorityHigh:     100,
			model.PriorityCritical: 1000,
		}
	}
	return &PaymentQueue{
		entries: make([]*model.QueueEntry, 0, maxSize),
		maxSize: maxSize,
		weights: weights,
		clock:   clock,
	}
}

// score = 优先级权重 + min(排队秒数, 100) + log10(amount/1e18)*2
// 年龄项防止老的低优先级请求饿死，金额项让大额略微靠前
func (q *PaymentQueue) score(e *model.QueueEntry) float64 {
	s := q.weights[e.Request.Priority]

	ageSec := q.clock.Now().Sub(e.EnqueuedAt).Seconds()
	s += math.Min(ageSec, 100)

	amt, _ := e.Request.Amount.Div(oneEther).Float64()
	if amt > 0 {
		s += math.Log10(amt) * 2
	}
	return s
}

// Enqueue 入队，队列已满返回 ErrQueueFull
// 二分找插入点保持降序; 相同分数的排在已有元素之后 (FIFO)
func (q *PaymentQueue) Enqueue(req *model.PaymentRequest) error {
	if len(q.entries) >= q.maxSize {
		return errno.ErrQueueFull
	}

	entry := &model.QueueEntry{
		Request:    req,
		EnqueuedAt: q.clock.Now(),
	}
	entry.PriorityScore = q.score(entry)

	idx := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].PriorityScore < entry.PriorityScore
	})

	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry
	return nil
}

// Dequeue 取出当前分数最高的请求，空队列返回 nil
func (q *PaymentQueue) Dequeue() *model.QueueEntry {
	if len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head
}

// DequeueBatch 从头部取出至多 max 个请求
func (q *PaymentQueue) DequeueBatch(max int) []*model.QueueEntry {
	if max <= 0 || len(q.entries) == 0 {
		return nil
	}
	if max > len(q.entries) {
		max = len(q.entries)
	}
	out := q.entries[:max]
	q.entries = q.entries[max:]
	return out
}

// Reprioritize 重算全部分数并重排
// 年龄在涨，必须由调度器周期性调用 (O(n log n)，不在每次入队时做)
func (q *PaymentQueue) Reprioritize() {
	for _, e := range q.entries {
		e.PriorityScore = q.score(e)
	}
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].PriorityScore > q.entries[j].PriorityScore
	})
}

// Size 当前队列深度
func (q *PaymentQueue) Size() int {
	return len(q.entries)
}
