package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/service/chain"
	"payment-core/pkg/crypto_util"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

const procTimeWindow = 100

type bucketKey struct {
	Token string
	Type  model.DistributionType
}

type pendingDistribution struct {
	dist     model.FeeDistribution
	queuedAt time.Time
}

// DistributorConfig FeeDistributor 的配置面
type DistributorConfig struct {
	BatchSize             int
	MaxRetries            int
	RetryDelay            time.Duration
	MinDistributionAmount decimal.Decimal
	MaxPendingAge         time.Duration // 超龄的小额分发强制出清，避免无限饥饿
	SubmitTimeout         time.Duration
	StakingPoolAddress    string
	RewardRate            decimal.Decimal
	LockupPeriod          time.Duration
	Tokens                map[string]model.TokenSpec
}

// DistributionStats 分发侧累计统计
type DistributionStats struct {
	TotalDistributed     decimal.Decimal                            `json:"total_distributed"`
	ByType               map[model.DistributionType]decimal.Decimal `json:"by_type"`
	ByToken              map[string]decimal.Decimal                 `json:"by_token"`
	CompletedBatches     int64                                      `json:"completed_batches"`
	FailedBatches        int64                                      `json:"failed_batches"`
	RetriedBatches       int64                                      `json:"retried_batches"`
	PendingDistributions int                                        `json:"pending_distributions"`
	PendingAmount        decimal.Decimal                            `json:"pending_amount"`
	AvgProcessingMs      float64                                    `json:"avg_processing_ms"`
	SuccessRate          float64                                    `json:"success_rate"`
	ReceiptCount         int                                        `json:"receipt_count"`
}

// FeeDistributor 把待分发费用合并成尽量少的链上转账，带重试和质押账本
// 批次生成是周期性的单写者操作; 重试以批次 ID 为键的独立延时任务，不会和新一轮清算抢同一个接收方桶
type FeeDistributor struct {
	cfg       DistributorConfig
	submitter chain.Submitter
	bus       event.Bus
	clock     Clock
	db        *gorm.DB // 可选, 配置了数据库时回执落库

	mu       sync.Mutex
	pending  map[bucketKey][]pendingDistribution
	batches  map[string]*model.DistributionBatch
	receipts []model.DistributionReceipt

	completed, failed, retried int64
	totalDistributed           decimal.Decimal
	totalByType                map[model.DistributionType]decimal.Decimal
	totalByToken               map[string]decimal.Decimal
	procTimes                  []float64 // 滚动窗口, 最近 procTimeWindow 个批次的耗时 (ms)

	pool           *model.StakingPool
	stakeTimes     map[string]time.Time
	stakingFeePool map[string]decimal.Decimal // token -> 已到账的 staking 桶费用

	wg sync.WaitGroup
}

func NewFeeDistributor(cfg DistributorConfig, submitter chain.Submitter, bus event.Bus, clock Clock, db *gorm.DB) *FeeDistributor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.MaxPendingAge <= 0 {
		cfg.MaxPendingAge = 24 * time.Hour
	}
	return &FeeDistributor{
		cfg:          cfg,
		submitter:    submitter,
		bus:          bus,
		clock:        clock,
		db:           db,
		pending:      make(map[bucketKey][]pendingDistribution),
		batches:      make(map[string]*model.DistributionBatch),
		totalByType:  make(map[model.DistributionType]decimal.Decimal),
		totalByToken: make(map[string]decimal.Decimal),
		pool: &model.StakingPool{
			Address:      cfg.StakingPoolAddress,
			Stakeholders: make(map[string]decimal.Decimal),
			RewardRate:   cfg.RewardRate,
			LockupPeriod: cfg.LockupPeriod,
		},
		stakeTimes:     make(map[string]time.Time),
		stakingFeePool: make(map[string]decimal.Decimal),
	}
}

// QueueDistributions 按 (token, type) 入桶
func (d *FeeDistributor) QueueDistributions(dists []model.FeeDistribution) error {
	if len(dists) == 0 {
		return errno.ErrEmptyDistribution
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueLocked(dists)
	return nil
}

func (d *FeeDistributor) queueLocked(dists []model.FeeDistribution) {
	now := d.clock.Now()
	for _, dist := range dists {
		if !dist.Amount.IsPositive() || dist.Recipient == "" {
			continue
		}
		key := bucketKey{Token: dist.Token, Type: dist.Type}
		d.pending[key] = append(d.pending[key], pendingDistribution{dist: dist, queuedAt: now})
	}
	d.updatePendingGaugeLocked()
}

// CreateDistributionBatches 把待分发出清成批次 (单写者, 由调度器周期性调用)
// 同一 (token,type) 桶内按接收方合并; 合计低于 MinDistributionAmount 且未超龄的接收方继续挂起;
// 接收方组按 BatchSize 拆批。返回的批次已注册，等待 ProcessBatch 执行
func (d *FeeDistributor) CreateDistributionBatches() []*model.DistributionBatch {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	var out []*model.DistributionBatch

	keys := make([]bucketKey, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Token != keys[j].Token {
			return keys[i].Token < keys[j].Token
		}
		return keys[i].Type < keys[j].Type
	})

	for _, key := range keys {
		list := d.pending[key]

		// 按接收方聚合
		sums := make(map[string]decimal.Decimal)
		oldest := make(map[string]time.Time)
		order := make([]string, 0)
		for _, p := range list {
			if _, seen := sums[p.dist.Recipient]; !seen {
				order = append(order, p.dist.Recipient)
				oldest[p.dist.Recipient] = p.queuedAt
			}
			sums[p.dist.Recipient] = sums[p.dist.Recipient].Add(p.dist.Amount)
			if p.queuedAt.Before(oldest[p.dist.Recipient]) {
				oldest[p.dist.Recipient] = p.queuedAt
			}
		}
		sort.Strings(order)

		var kept []pendingDistribution
		var items []model.FeeDistribution
		for _, recipient := range order {
			sum := sums[recipient]
			aged := now.Sub(oldest[recipient]) >= d.cfg.MaxPendingAge
			if sum.LessThan(d.cfg.MinDistributionAmount) && !aged {
				// 未达起付线且未超龄: 继续挂起
				for _, p := range list {
					if p.dist.Recipient == recipient {
						kept = append(kept, p)
					}
				}
				continue
			}
			items = append(items, model.FeeDistribution{
				Recipient: recipient,
				Amount:    sum,
				Type:      key.Type,
				Token:     key.Token,
			})
		}

		// 按 BatchSize 拆批
		for start := 0; start < len(items); start += d.cfg.BatchSize {
			end := start + d.cfg.BatchSize
			if end > len(items) {
				end = len(items)
			}
			chunk := items[start:end]

			total := decimal.Zero
			for _, it := range chunk {
				total = total.Add(it.Amount)
			}

			batch := &model.DistributionBatch{
				ID:            distBatchID(key, chunk, now),
				Token:         key.Token,
				Type:          key.Type,
				Distributions: chunk,
				TotalAmount:   total,
				Status:        model.DistBatchPending,
				CreatedAt:     now,
			}
			d.batches[batch.ID] = batch
			out = append(out, batch)
		}

		if len(kept) == 0 {
			delete(d.pending, key)
		} else {
			d.pending[key] = kept
		}
	}

	d.updatePendingGaugeLocked()
	return out
}

func distBatchID(key bucketKey, items []model.FeeDistribution, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(key.Token)
	sb.WriteByte('|')
	sb.WriteString(string(key.Type))
	for _, it := range items {
		sb.WriteByte('|')
		sb.WriteString(it.Recipient)
		sb.WriteByte(':')
		sb.WriteString(it.Amount.String())
	}
	sb.WriteString(fmt.Sprintf("|%d", now.UnixNano()))
	return "dist_" + crypto_util.CalculateBlake3([]byte(sb.String()))[:32]
}

// Sweep 一轮清算: 生成批次并发执行
// 批次执行不挂在调用方的 ctx 上: 清算函数返回后在途提交还在跑，取消会把
// 健康批次的首次尝试误判成失败。链上提交只受 SubmitTimeout 约束。
func (d *FeeDistributor) Sweep() int {
	batches := d.CreateDistributionBatches()
	for _, b := range batches {
		id := b.ID
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.ProcessBatch(context.Background(), id)
		}()
	}
	return len(batches)
}

// ProcessBatch 执行单个批次: pending -> processing -> completed / 重试 / failed
func (d *FeeDistributor) ProcessBatch(ctx context.Context, batchID string) error {
	d.mu.Lock()
	batch, ok := d.batches[batchID]
	if !ok {
		d.mu.Unlock()
		return errno.ErrBatchNotFound
	}
	if batch.Status != model.DistBatchPending {
		d.mu.Unlock()
		return nil
	}
	batch.Status = model.DistBatchProcessing

	spec := chain.TransferSpec{
		Ref:   batch.ID,
		Token: d.cfg.Tokens[batch.Token],
		From:  "", // 热钱包由提交层持有
	}
	for _, dist := range batch.Distributions {
		spec.Transfers = append(spec.Transfers, chain.Transfer{To: dist.Recipient, Amount: dist.Amount})
	}
	d.mu.Unlock()

	start := d.clock.Now()
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	receipt, err := d.submitter.Submit(sctx, spec)
	cancel()

	if err != nil {
		d.handleFailure(ctx, batchID, err)
		return nil // 异步错误只通过状态和事件上报，不打断调度循环
	}

	d.completeBatch(ctx, batchID, receipt, d.clock.Now().Sub(start))
	return nil
}

func (d *FeeDistributor) completeBatch(ctx context.Context, batchID string, receipt *chain.Receipt, elapsed time.Duration) {
	d.mu.Lock()
	batch := d.batches[batchID]
	now := d.clock.Now()
	batch.Status = model.DistBatchCompleted
	batch.ProcessedAt = &now
	batch.TransactionHash = receipt.TxHash

	d.completed++
	d.totalDistributed = d.totalDistributed.Add(batch.TotalAmount)
	d.totalByType[batch.Type] = d.totalByType[batch.Type].Add(batch.TotalAmount)
	d.totalByToken[batch.Token] = d.totalByToken[batch.Token].Add(batch.TotalAmount)

	d.procTimes = append(d.procTimes, float64(elapsed.Milliseconds()))
	if len(d.procTimes) > procTimeWindow {
		d.procTimes = d.procTimes[len(d.procTimes)-procTimeWindow:]
	}

	gasPer := receipt.GasUsed
	if n := uint64(len(batch.Distributions)); n > 0 {
		gasPer = receipt.GasUsed / n
	}
	rows := make([]model.DistributionReceipt, 0, len(batch.Distributions))
	for _, dist := range batch.Distributions {
		rows = append(rows, model.DistributionReceipt{
			BatchID:         batch.ID,
			Recipient:       dist.Recipient,
			Amount:          dist.Amount,
			Token:           dist.Token,
			Type:            dist.Type,
			TransactionHash: receipt.TxHash,
			Timestamp:       now,
			GasUsed:         gasPer,
		})

		// staking 桶费用到账质押池后才计入可分配奖励池
		if dist.Type == model.DistStaking && dist.Recipient == d.pool.Address {
			d.stakingFeePool[dist.Token] = d.stakingFeePool[dist.Token].Add(dist.Amount)
		}
	}
	d.receipts = append(d.receipts, rows...)
	cp := *batch
	d.mu.Unlock()

	if d.db != nil {
		if err := d.db.Create(&rows).Error; err != nil {
			logger.Error("分发回执落库失败", zap.String("batch_id", cp.ID), zap.Error(err))
		}
	}

	if monitor.Business != nil {
		monitor.Business.DistributionBatchTotal.WithLabelValues(cp.Token, string(cp.Type), "completed").Inc()
	}

	d.bus.Publish(ctx, event.TopicDistribution, cp.ID, event.DistributionBatchEvent{
		BatchID:     cp.ID,
		Token:       cp.Token,
		Type:        string(cp.Type),
		Count:       len(cp.Distributions),
		TotalAmount: cp.TotalAmount.String(),
		Status:      string(model.DistBatchCompleted),
		RetryCount:  cp.RetryCount,
		TxHash:      receipt.TxHash,
	})
}

// handleFailure 失败后按指数退避重试，超出上限后终态 failed
// delay = RetryDelay x 2^RetryCount; 重试以批次 ID 为键，不会与新批次合并
func (d *FeeDistributor) handleFailure(ctx context.Context, batchID string, cause error) {
	d.mu.Lock()
	batch := d.batches[batchID]

	if batch.RetryCount < d.cfg.MaxRetries {
		delay := d.cfg.RetryDelay * (1 << uint(batch.RetryCount))
		batch.RetryCount++
		batch.Status = model.DistBatchPending
		batch.Error = cause.Error()
		retry := batch.RetryCount
		d.retried++
		d.mu.Unlock()

		if monitor.Business != nil {
			monitor.Business.DistributionRetryTotal.Inc()
		}
		logger.Warn("分发批次失败，稍后重试",
			zap.String("batch_id", batchID),
			zap.Int("retry", retry),
			zap.Duration("delay", delay),
			zap.Error(cause))

		d.wg.Add(1)
		d.clock.AfterFunc(delay, func() {
			defer d.wg.Done()
			d.ProcessBatch(context.Background(), batchID)
		})
		return
	}

	batch.Status = model.DistBatchFailed
	batch.Error = cause.Error()
	cp := *batch
	d.failed++
	d.mu.Unlock()

	if monitor.Business != nil {
		monitor.Business.DistributionBatchTotal.WithLabelValues(cp.Token, string(cp.Type), "failed").Inc()
	}
	logger.Error("分发批次重试耗尽，标记为失败", zap.String("batch_id", batchID), zap.Error(cause))

	d.bus.Publish(ctx, event.TopicDistribution, batchID, event.DistributionBatchEvent{
		BatchID:     batchID,
		Token:       cp.Token,
		Type:        string(cp.Type),
		Count:       len(cp.Distributions),
		TotalAmount: cp.TotalAmount.String(),
		Status:      string(model.DistBatchFailed),
		RetryCount:  cp.RetryCount,
		Error:       cause.Error(),
	})
}

// RetryFailedDistributions 手动把终态失败的批次重新入列
// 重试预算清零，相当于运维触发的一次全新提交。执行同样与请求 ctx 解耦，
// 响应返回不会打断重放。
func (d *FeeDistributor) RetryFailedDistributions() int {
	d.mu.Lock()
	var ids []string
	for id, b := range d.batches {
		if b.Status == model.DistBatchFailed {
			b.Status = model.DistBatchPending
			b.RetryCount = 0
			b.Error = ""
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		id := id
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.ProcessBatch(context.Background(), id)
		}()
	}
	return len(ids)
}

// GetBatch 查询批次 (快照)
func (d *FeeDistributor) GetBatch(id string) (*model.DistributionBatch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.batches[id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// Stats 分发统计快照
func (d *FeeDistributor) Stats() DistributionStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DistributionStats{
		TotalDistributed: d.totalDistributed,
		ByType:           make(map[model.DistributionType]decimal.Decimal, len(d.totalByType)),
		ByToken:          make(map[string]decimal.Decimal, len(d.totalByToken)),
		CompletedBatches: d.completed,
		FailedBatches:    d.failed,
		RetriedBatches:   d.retried,
		ReceiptCount:     len(d.receipts),
	}
	for k, v := range d.totalByType {
		stats.ByType[k] = v
	}
	for k, v := range d.totalByToken {
		stats.ByToken[k] = v
	}

	for _, list := range d.pending {
		stats.PendingDistributions += len(list)
		for _, p := range list {
			stats.PendingAmount = stats.PendingAmount.Add(p.dist.Amount)
		}
	}

	if len(d.procTimes) > 0 {
		sum := 0.0
		for _, t := range d.procTimes {
			sum += t
		}
		stats.AvgProcessingMs = sum / float64(len(d.procTimes))
	}
	if total := d.completed + d.failed; total > 0 {
		stats.SuccessRate = float64(d.completed) / float64(total)
	}
	return stats
}

// Receipts 审计回执快照
func (d *FeeDistributor) Receipts() []model.DistributionReceipt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.DistributionReceipt, len(d.receipts))
	copy(out, d.receipts)
	return out
}

// Wait 等待在途批次和重试定时器结束 (优雅停机 / 测试用)
func (d *FeeDistributor) Wait() {
	d.wg.Wait()
}

func (d *FeeDistributor) updatePendingGaugeLocked() {
	if monitor.Business == nil {
		return
	}
	n := 0
	for _, list := range d.pending {
		n += len(list)
	}
	monitor.Business.PendingDistributions.Set(float64(n))
}
