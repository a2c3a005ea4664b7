package service

import (
	"strings"
	"sync"
	"time"

	"payment-core/internal/model"
	"payment-core/pkg/crypto_util"
)

// BatchAssembler 把准入后的请求流切成定长或定时的批次
// 满 maxBatchSize 立即刷出; 首个元素进入空批时启动 batchTimeout 定时器
type BatchAssembler struct {
	mu           sync.Mutex
	maxBatchSize int
	batchTimeout time.Duration
	clock        Clock

	current []*model.PaymentRequest
	timer   Timer

	// flushFn 拿到组好的批次后负责异步执行; 执行失败通过事件上报，不会回到装配器
	flushFn func(*model.PaymentBatch)
}

func NewBatchAssembler(maxBatchSize int, batchTimeout time.Duration, clock Clock, flushFn func(*model.PaymentBatch)) *BatchAssembler {
	return &BatchAssembler{
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		clock:        clock,
		flushFn:      flushFn,
	}
}

// AddToBatch 追加一个请求
func (a *BatchAssembler) AddToBatch(req *model.PaymentRequest) {
	a.mu.Lock()

	a.current = append(a.current, req)

	// 空批的第一个元素到达时启动超时定时器
	if len(a.current) == 1 && a.batchTimeout > 0 {
		a.timer = a.clock.AfterFunc(a.batchTimeout, a.FlushBatch)
	}

	if len(a.current) >= a.maxBatchSize {
		batch := a.swapLocked()
		a.mu.Unlock()
		if batch != nil {
			a.flushFn(batch)
		}
		return
	}
	a.mu.Unlock()
}

// FlushBatch 原子地换出当前批并交给执行方; 空批是 no-op
func (a *BatchAssembler) FlushBatch() {
	a.mu.Lock()
	batch := a.swapLocked()
	a.mu.Unlock()

	if batch != nil {
		a.flushFn(batch)
	}
}

// swapLocked 换出当前批并取消定时器，调用者必须持锁
func (a *BatchAssembler) swapLocked() *model.PaymentBatch {
	if len(a.current) == 0 {
		return nil
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	requests := a.current
	a.current = nil

	return &model.PaymentBatch{
		ID:        batchID("batch", requests),
		Requests:  requests,
		Status:    model.BatchPending,
		CreatedAt: a.clock.Now(),
	}
}

// batchID 由批次内容派生: prefix_<blake3 前 16 字节>
// 请求 ID 本身带随机后缀，内容派生即可保证唯一，同时相同内容可复现
func batchID(prefix string, requests []*model.PaymentRequest) string {
	var sb strings.Builder
	for _, r := range requests {
		sb.WriteString(r.ID)
		sb.WriteByte('|')
	}
	return prefix + "_" + crypto_util.CalculateBlake3([]byte(sb.String()))[:32]
}
