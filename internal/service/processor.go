package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/service/chain"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/safe_random"
)

const (
	latencyWindow = 100
	tpsWindow     = 10 * time.Second
)

// ProcessorConfig PaymentProcessor 的配置面
type ProcessorConfig struct {
	MaxQueueSize    int
	MaxBatchSize    int
	BatchTimeout    time.Duration
	WorkerPoolSize  int
	IdlePoll        time.Duration
	PriorityWeights map[model.Priority]float64
	SubmitTimeout   time.Duration
	Tokens          map[string]model.TokenSpec
}

// TokenStats 单币种累计
type TokenStats struct {
	Count  int64           `json:"count"`
	Volume decimal.Decimal `json:"volume"`
}

// ProcessingMetrics 处理侧实时指标快照
type ProcessingMetrics struct {
	TotalProcessed int64                 `json:"total_processed"`
	TotalFailed    int64                 `json:"total_failed"`
	SuccessRate    float64               `json:"success_rate"`
	AvgLatencyMs   float64               `json:"avg_latency_ms"`
	CurrentTPS     float64               `json:"current_tps"`
	QueueDepth     int                   `json:"queue_depth"`
	ActiveWorkers  int                   `json:"active_workers"`
	ByToken        map[string]TokenStats `json:"by_token"`
}

// PaymentProcessor 支付编排: 准入 -> 优先级队列 -> 批组装 -> 工作池执行
// 队列和交易表共用准入锁; 指标有独立的锁，执行路径不会因为状态查询被卡住
type PaymentProcessor struct {
	cfg       ProcessorConfig
	queue     *PaymentQueue
	assembler *BatchAssembler
	engine    *FeeEngine
	submitter chain.Submitter
	bus       event.Bus
	clock     Clock

	mu      sync.Mutex
	txs     map[string]*model.PaymentTransaction
	batches map[string]*model.PaymentBatch

	metricsMu      sync.Mutex
	totalProcessed int64
	totalFailed    int64
	latencies      []float64
	completedAt    []time.Time
	tokenStats     map[string]*TokenStats

	workers chan struct{}
	stop    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewPaymentProcessor(cfg ProcessorConfig, engine *FeeEngine, submitter chain.Submitter, bus event.Bus, clock Clock) *PaymentProcessor {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 50 * time.Millisecond
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}

	p := &PaymentProcessor{
		cfg:        cfg,
		queue:      NewPaymentQueue(cfg.MaxQueueSize, cfg.PriorityWeights, clock),
		engine:     engine,
		submitter:  submitter,
		bus:        bus,
		clock:      clock,
		txs:        make(map[string]*model.PaymentTransaction),
		batches:    make(map[string]*model.PaymentBatch),
		tokenStats: make(map[string]*TokenStats),
		workers:    make(chan struct{}, cfg.WorkerPoolSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.assembler = NewBatchAssembler(cfg.MaxBatchSize, cfg.BatchTimeout, clock, p.dispatchBatch)
	return p
}

// SubmitPayment 校验并准入一笔支付，返回已入队的交易记录
func (p *PaymentProcessor) SubmitPayment(ctx context.Context, req *model.PaymentRequest) (*model.PaymentTransaction, error) {
	if req == nil || req.From == "" || req.To == "" {
		return nil, errno.ErrInvalidRequest
	}
	if _, ok := p.cfg.Tokens[req.Token]; !ok {
		return nil, errno.ErrUnsupportedToken
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Floor()) {
		return nil, errno.ErrInvalidAmount
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	} else if !req.Priority.Valid() {
		return nil, errno.ErrInvalidRequest
	}

	// 1. 生成交易 ID
	suffix, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	req.ID = "tx_" + suffix
	now := p.clock.Now()
	req.Timestamp = now

	// 2. 准入: 入队和建档在同一临界区，保证可查询的交易一定在队列里
	p.mu.Lock()
	if err := p.queue.Enqueue(req); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	tx := &model.PaymentTransaction{
		ID:        req.ID,
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Token:     req.Token,
		Priority:  req.Priority,
		Status:    model.TxQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.txs[req.ID] = tx
	depth := p.queue.Size()
	p.mu.Unlock()

	// 3. 指标与事件
	if monitor.Business != nil {
		monitor.Business.PaymentSubmittedTotal.WithLabelValues(req.Token, string(req.Priority)).Inc()
		monitor.Business.QueueDepth.Set(float64(depth))
	}
	p.bus.Publish(ctx, event.TopicPayment, req.ID, event.PaymentQueuedEvent{
		TransactionID: req.ID,
		Token:         req.Token,
		Amount:        req.Amount.String(),
		Priority:      string(req.Priority),
		QueuedAt:      now,
	})

	cp := *tx
	return &cp, nil
}

// GetPaymentStatus O(1) 查询交易 (快照)
func (p *PaymentProcessor) GetPaymentStatus(id string) (*model.PaymentTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txs[id]
	if !ok {
		return nil, errno.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

// Start 启动出队循环
func (p *PaymentProcessor) Start() {
	go p.loop()
}

func (p *PaymentProcessor) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if n := p.drainOnce(); n == 0 {
			select {
			case <-p.stop:
				return
			case <-time.After(p.cfg.IdlePoll):
			}
		}
	}
}

// drainOnce 从队列头部取一批请求喂给组装器，返回取到的数量
func (p *PaymentProcessor) drainOnce() int {
	p.mu.Lock()
	entries := p.queue.DequeueBatch(p.cfg.MaxBatchSize)
	now := p.clock.Now()
	for _, e := range entries {
		if tx, ok := p.txs[e.Request.ID]; ok {
			tx.Status = model.TxProcessing
			tx.UpdatedAt = now
		}
	}
	depth := p.queue.Size()
	p.mu.Unlock()

	if monitor.Business != nil {
		monitor.Business.QueueDepth.Set(float64(depth))
	}
	for _, e := range entries {
		p.assembler.AddToBatch(e.Request)
	}
	return len(entries)
}

// dispatchBatch 组装器回调: 占一个工作槽后异步执行
func (p *PaymentProcessor) dispatchBatch(batch *model.PaymentBatch) {
	p.mu.Lock()
	p.batches[batch.ID] = batch
	p.mu.Unlock()

	p.workers <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.workers
			p.wg.Done()
		}()
		p.executeBatch(context.Background(), batch)
	}()
}

// executeBatch 按币种分组提交，任一组失败则批次标记失败 (其余组不受影响)
func (p *PaymentProcessor) executeBatch(ctx context.Context, batch *model.PaymentBatch) {
	start := p.clock.Now()

	p.mu.Lock()
	batch.Status = model.BatchProcessing
	p.mu.Unlock()

	groups := make(map[string][]*model.PaymentRequest)
	tokens := make([]string, 0)
	for _, req := range batch.Requests {
		if _, seen := groups[req.Token]; !seen {
			tokens = append(tokens, req.Token)
		}
		groups[req.Token] = append(groups[req.Token], req)
	}
	sort.Strings(tokens)

	failed := false
	var lastHash string
	for _, token := range tokens {
		reqs := groups[token]
		spec := chain.TransferSpec{
			Ref:   batch.ID,
			Token: p.cfg.Tokens[token],
		}
		for _, req := range reqs {
			spec.Transfers = append(spec.Transfers, chain.Transfer{To: req.To, Amount: req.Amount})
		}

		sctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
		receipt, err := p.submitter.Submit(sctx, spec)
		cancel()

		if err != nil {
			failed = true
			p.failRequests(ctx, reqs, err)
			continue
		}
		lastHash = receipt.TxHash
		p.completeRequests(ctx, reqs, receipt)
	}

	elapsed := p.clock.Now().Sub(start)
	now := p.clock.Now()

	p.mu.Lock()
	if failed {
		batch.Status = model.BatchFailed
	} else {
		batch.Status = model.BatchCompleted
	}
	batch.ProcessedAt = &now
	batch.TransactionHash = lastHash
	status := batch.Status
	p.mu.Unlock()

	if monitor.Business != nil {
		monitor.Business.BatchDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	}
	p.bus.Publish(ctx, event.TopicPayment, batch.ID, event.BatchProcessedEvent{
		BatchID:    batch.ID,
		Count:      len(batch.Requests),
		Status:     string(status),
		TxHash:     lastHash,
		DurationMs: elapsed.Milliseconds(),
	})
}

func (p *PaymentProcessor) completeRequests(ctx context.Context, reqs []*model.PaymentRequest, receipt *chain.Receipt) {
	now := p.clock.Now()
	gasPer := receipt.GasUsed
	if n := uint64(len(reqs)); n > 0 {
		gasPer = receipt.GasUsed / n
	}

	for _, req := range reqs {
		// 费用计算走缓存，结果同时入分发桶
		var fee decimal.Decimal
		if breakdown, err := p.engine.CalculateOptimalFee(ctx, req); err == nil {
			fee = breakdown.TotalFee
			if qerr := p.engine.QueueFeeDistribution(ctx, req); qerr != nil {
				logger.Warn("费用分发入桶失败", zap.String("tx_id", req.ID), zap.Error(qerr))
			}
		} else {
			logger.Warn("费用计算失败，跳过分发", zap.String("tx_id", req.ID), zap.Error(err))
		}

		p.mu.Lock()
		tx, ok := p.txs[req.ID]
		if ok {
			tx.Status = model.TxCompleted
			tx.Hash = receipt.TxHash
			tx.Fee = fee
			tx.GasUsed = gasPer
			tx.BlockNumber = receipt.BlockNumber
			tx.UpdatedAt = now
		}
		p.mu.Unlock()
		if !ok {
			continue
		}

		p.recordCompletion(req, now)
		if monitor.Business != nil {
			monitor.Business.PaymentCompletedTotal.WithLabelValues(req.Token, string(model.TxCompleted)).Inc()
			amt, _ := req.Amount.Float64()
			monitor.Business.PaymentAmountTotal.WithLabelValues(req.Token).Add(amt)
		}
		p.bus.Publish(ctx, event.TopicPayment, req.ID, event.PaymentCompletedEvent{
			TransactionID: req.ID,
			Status:        string(model.TxCompleted),
			Hash:          receipt.TxHash,
		})
	}
}

func (p *PaymentProcessor) failRequests(ctx context.Context, reqs []*model.PaymentRequest, cause error) {
	now := p.clock.Now()
	for _, req := range reqs {
		p.mu.Lock()
		if tx, ok := p.txs[req.ID]; ok {
			tx.Status = model.TxFailed
			tx.Error = cause.Error()
			tx.UpdatedAt = now
		}
		p.mu.Unlock()

		p.metricsMu.Lock()
		p.totalFailed++
		p.metricsMu.Unlock()

		if monitor.Business != nil {
			monitor.Business.PaymentCompletedTotal.WithLabelValues(req.Token, string(model.TxFailed)).Inc()
		}
		p.bus.Publish(ctx, event.TopicPayment, req.ID, event.PaymentCompletedEvent{
			TransactionID: req.ID,
			Status:        string(model.TxFailed),
			Error:         cause.Error(),
		})
	}
}

func (p *PaymentProcessor) recordCompletion(req *model.PaymentRequest, now time.Time) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	p.totalProcessed++
	p.latencies = append(p.latencies, now.Sub(req.Timestamp).Seconds()*1000)
	if len(p.latencies) > latencyWindow {
		p.latencies = p.latencies[len(p.latencies)-latencyWindow:]
	}

	p.completedAt = append(p.completedAt, now)
	cutoff := now.Add(-tpsWindow)
	i := 0
	for i < len(p.completedAt) && p.completedAt[i].Before(cutoff) {
		i++
	}
	p.completedAt = p.completedAt[i:]

	ts, ok := p.tokenStats[req.Token]
	if !ok {
		ts = &TokenStats{}
		p.tokenStats[req.Token] = ts
	}
	ts.Count++
	ts.Volume = ts.Volume.Add(req.Amount)
}

// Metrics 实时处理指标快照
func (p *PaymentProcessor) Metrics() ProcessingMetrics {
	p.mu.Lock()
	depth := p.queue.Size()
	p.mu.Unlock()

	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	m := ProcessingMetrics{
		TotalProcessed: p.totalProcessed,
		TotalFailed:    p.totalFailed,
		QueueDepth:     depth,
		ActiveWorkers:  len(p.workers),
		ByToken:        make(map[string]TokenStats, len(p.tokenStats)),
	}
	for k, v := range p.tokenStats {
		m.ByToken[k] = *v
	}

	if total := p.totalProcessed + p.totalFailed; total > 0 {
		m.SuccessRate = float64(p.totalProcessed) / float64(total)
	}
	if len(p.latencies) > 0 {
		sum := 0.0
		for _, l := range p.latencies {
			sum += l
		}
		m.AvgLatencyMs = sum / float64(len(p.latencies))
	}

	now := p.clock.Now()
	cutoff := now.Add(-tpsWindow)
	recent := 0
	for _, t := range p.completedAt {
		if !t.Before(cutoff) {
			recent++
		}
	}
	m.CurrentTPS = float64(recent) / tpsWindow.Seconds()
	return m
}

// Reprioritize 重算队列分数 (由调度器周期性调用)
func (p *PaymentProcessor) Reprioritize() {
	p.mu.Lock()
	p.queue.Reprioritize()
	p.mu.Unlock()
}

// QueueDepth 当前队列深度
func (p *PaymentProcessor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Size()
}

// GetBatch 查询支付批次 (快照)
func (p *PaymentProcessor) GetBatch(id string) (*model.PaymentBatch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// Stop 停止出队循环，冲洗未满的批次并等在途批次执行完
func (p *PaymentProcessor) Stop() {
	close(p.stop)
	<-p.done
	p.assembler.FlushBatch()
	p.wg.Wait()
}
