package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/service/chain"
	"payment-core/pkg/cache"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

const gasPerTransfer = 21000

// NetworkConditions 最近一次观测到的网络状态
type NetworkConditions struct {
	GasPrice   decimal.Decimal `json:"gas_price"` // gwei
	Congestion decimal.Decimal `json:"congestion"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// FeeAnalytics 累计费用统计，只在计算成功后更新
type FeeAnalytics struct {
	Calculations  int64                              `json:"calculations"`
	TotalFees     decimal.Decimal                    `json:"total_fees"`
	TotalDust     decimal.Decimal                    `json:"total_dust"`
	FeesByToken   map[string]decimal.Decimal         `json:"fees_by_token"`
	VolumeByToken map[string]decimal.Decimal         `json:"volume_by_token"`
	BucketTotals  map[model.DistributionType]decimal.Decimal `json:"bucket_totals"`
}

// TrendPoint 趋势序列中的一个累计快照
type TrendPoint struct {
	Timestamp    time.Time       `json:"timestamp"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	Calculations int64           `json:"calculations"`
}

// FeeTrends 小时/天/周三个容量封顶的环形序列
type FeeTrends struct {
	Hourly []TrendPoint `json:"hourly"` // cap 24
	Daily  []TrendPoint `json:"daily"`  // cap 30
	Weekly []TrendPoint `json:"weekly"` // cap 52
}

// BatchFeeResult 批量计费结果
type BatchFeeResult struct {
	TotalFees      decimal.Decimal       `json:"total_fees"`
	IndividualFees []*model.FeeBreakdown `json:"individual_fees"`
	BatchDiscount  decimal.Decimal       `json:"batch_discount"`
	Savings        decimal.Decimal       `json:"savings"`
}

// FeeOptimization 调价建议
type FeeOptimization struct {
	RecommendedFeeRate   decimal.Decimal `json:"recommended_fee_rate"`
	EstimatedSavings     decimal.Decimal `json:"estimated_savings"`
	BatchOpportunities   int             `json:"batch_opportunities"`
	GasOptimizationLevel int             `json:"gas_optimization_level"` // 0-100
}

// FeeEngineConfig FeeEngine 的配置面
type FeeEngineConfig struct {
	CacheTTL         time.Duration
	GasPriceBaseline decimal.Decimal // gwei, 高于它时附加 gas 调整
	Recipients       map[model.DistributionType]string
}

// FeeEngine 在 FeeCalculator 之上提供缓存、网络反馈、统计聚合和批量计费
type FeeEngine struct {
	calc      *FeeCalculator
	cache     cache.Cache
	submitter chain.Submitter
	bus       event.Bus
	clock     Clock
	cfg       FeeEngineConfig

	mu        sync.Mutex
	network   NetworkConditions
	analytics FeeAnalytics
	pending   []model.FeeDistribution
	trends    FeeTrends
	lastHourly, lastDaily, lastWeekly time.Time
}

func NewFeeEngine(calc *FeeCalculator, c cache.Cache, submitter chain.Submitter, bus event.Bus, clock Clock, cfg FeeEngineConfig) *FeeEngine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.GasPriceBaseline.IsZero() {
		cfg.GasPriceBaseline = decimal.NewFromInt(30)
	}
	return &FeeEngine{
		calc:      calc,
		cache:     c,
		submitter: submitter,
		bus:       bus,
		clock:     clock,
		cfg:       cfg,
		network: NetworkConditions{
			GasPrice:   cfg.GasPriceBaseline,
			Congestion: decimal.NewFromInt(1),
		},
		analytics: FeeAnalytics{
			FeesByToken:   make(map[string]decimal.Decimal),
			VolumeByToken: make(map[string]decimal.Decimal),
			BucketTotals:  make(map[model.DistributionType]decimal.Decimal),
		},
	}
}

// CalculateOptimalFee 带缓存的费用计算
// 缓存键 (token, amount, priority)，TTL 30s; 命中时返回逐位相同的结果且不重复累计统计
func (e *FeeEngine) CalculateOptimalFee(ctx context.Context, req *model.PaymentRequest) (*model.FeeBreakdown, error) {
	key := feeCacheKey(req)

	var cached model.FeeBreakdown
	if err := e.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn("费用缓存读取失败", zap.String("key", key), zap.Error(err))
	}

	e.maybeRefreshNetwork(ctx)

	breakdown, err := e.calc.CalculateFee(req)
	if err != nil {
		// 统计不允许半更新，失败路径什么都不碰
		return nil, e.feeFailure(ctx, req, err)
	}

	// gas 高于基准时附加 gas 感知调整 (差额计入 network 桶)
	net := e.NetworkConditions()
	if net.GasPrice.GreaterThan(e.cfg.GasPriceBaseline) {
		delta := net.GasPrice.Sub(e.cfg.GasPriceBaseline)
		breakdown, err = e.calc.CalculateGasOptimizedFee(req, gasPerTransfer, delta)
		if err != nil {
			return nil, e.feeFailure(ctx, req, err)
		}
	}

	if err := e.cache.Set(ctx, key, breakdown, e.cfg.CacheTTL); err != nil {
		logger.Warn("费用缓存写入失败", zap.String("key", key), zap.Error(err))
	}

	e.recordAnalytics(req, breakdown)

	e.bus.Publish(ctx, event.TopicFee, req.ID, event.FeeCalculatedEvent{
		RequestID:     req.ID,
		Token:         req.Token,
		Amount:        req.Amount.String(),
		Priority:      string(req.Priority),
		TotalFee:      breakdown.TotalFee.String(),
		FeePercentage: breakdown.FeePercentage.String(),
	})

	return breakdown, nil
}

func feeCacheKey(req *model.PaymentRequest) string {
	return fmt.Sprintf("fee:%s:%s:%s", req.Token, req.Amount.String(), req.Priority)
}

// feeFailure 计算失败既要抛给调用方也要对外可见: 发失败事件并包上费用错误码
func (e *FeeEngine) feeFailure(ctx context.Context, req *model.PaymentRequest, cause error) error {
	logger.Warn("费用计算失败", zap.String("request_id", req.ID), zap.Error(cause))
	e.bus.Publish(ctx, event.TopicFee, req.ID, event.FeeCalculationFailedEvent{
		RequestID: req.ID,
		Token:     req.Token,
		Amount:    req.Amount.String(),
		Priority:  string(req.Priority),
		Error:     cause.Error(),
	})
	return fmt.Errorf("%w: %w", errno.ErrFeeCalculation, cause)
}

func (e *FeeEngine) recordAnalytics(req *model.PaymentRequest, b *model.FeeBreakdown) {
	if monitor.Business != nil {
		fee, _ := b.TotalFee.Float64()
		monitor.Business.FeeCollectedTotal.WithLabelValues(req.Token).Add(fee)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.analytics.Calculations++
	e.analytics.TotalFees = e.analytics.TotalFees.Add(b.TotalFee)
	e.analytics.TotalDust = e.analytics.TotalDust.Add(b.Dust)
	e.analytics.FeesByToken[req.Token] = e.analytics.FeesByToken[req.Token].Add(b.TotalFee)
	e.analytics.VolumeByToken[req.Token] = e.analytics.VolumeByToken[req.Token].Add(req.Amount)
	e.analytics.BucketTotals[model.DistPlatform] = e.analytics.BucketTotals[model.DistPlatform].Add(b.PlatformFee)
	e.analytics.BucketTotals[model.DistNetwork] = e.analytics.BucketTotals[model.DistNetwork].Add(b.NetworkFee)
	e.analytics.BucketTotals[model.DistAgent] = e.analytics.BucketTotals[model.DistAgent].Add(b.AgentFee)
	e.analytics.BucketTotals[model.DistStaking] = e.analytics.BucketTotals[model.DistStaking].Add(b.StakingRewards)
}

// CalculateBatchFees 批量计费: 逐笔计算 (复用缓存) 后整体打批量折扣
// 折扣作用在每笔费用的每个分量上，Savings = 折前合计 - 折后合计
func (e *FeeEngine) CalculateBatchFees(ctx context.Context, reqs []*model.PaymentRequest) (*BatchFeeResult, error) {
	if len(reqs) == 0 {
		return nil, errno.ErrInvalidRequest
	}

	discount := e.calc.CalculateBatchFeeDiscount(len(reqs))
	factor := decimal.NewFromInt(1).Sub(discount)

	before := decimal.Zero
	after := decimal.Zero
	individual := make([]*model.FeeBreakdown, 0, len(reqs))

	for _, req := range reqs {
		b, err := e.CalculateOptimalFee(ctx, req)
		if err != nil {
			return nil, err
		}
		before = before.Add(b.TotalFee)

		d := &model.FeeBreakdown{
			TotalFee:       b.TotalFee.Mul(factor).Floor(),
			PlatformFee:    b.PlatformFee.Mul(factor).Floor(),
			NetworkFee:     b.NetworkFee.Mul(factor).Floor(),
			AgentFee:       b.AgentFee.Mul(factor).Floor(),
			StakingRewards: b.StakingRewards.Mul(factor).Floor(),
			FeePercentage:  b.FeePercentage.Mul(factor),
			Ratios:         b.Ratios,
		}
		after = after.Add(d.TotalFee)
		individual = append(individual, d)
	}

	return &BatchFeeResult{
		TotalFees:      after,
		IndividualFees: individual,
		BatchDiscount:  discount,
		Savings:        before.Sub(after),
	}, nil
}

// QueueFeeDistribution 把一笔已完成支付的费用拆成 4 个分发并入待分发列表
func (e *FeeEngine) QueueFeeDistribution(ctx context.Context, req *model.PaymentRequest) error {
	breakdown, err := e.CalculateOptimalFee(ctx, req)
	if err != nil {
		return err
	}

	buckets := []struct {
		typ    model.DistributionType
		amount decimal.Decimal
	}{
		{model.DistPlatform, breakdown.PlatformFee},
		{model.DistNetwork, breakdown.NetworkFee},
		{model.DistAgent, breakdown.AgentFee},
		{model.DistStaking, breakdown.StakingRewards},
	}

	e.mu.Lock()
	count := 0
	for _, b := range buckets {
		if !b.amount.IsPositive() {
			continue
		}
		e.pending = append(e.pending, model.FeeDistribution{
			Recipient: e.cfg.Recipients[b.typ],
			Amount:    b.amount,
			Type:      b.typ,
			Token:     req.Token,
		})
		count++
	}
	e.mu.Unlock()

	e.bus.Publish(ctx, event.TopicFee, req.ID, event.FeeDistributionQueuedEvent{
		RequestID: req.ID,
		Token:     req.Token,
		Count:     count,
		TotalFee:  breakdown.TotalFee.String(),
	})
	return nil
}

// DrainPendingDistributions 原子地取走并清空待分发列表 (分发清算的单写者入口)
func (e *FeeEngine) DrainPendingDistributions() []model.FeeDistribution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// PendingDistributionCount 当前待分发条数
func (e *FeeEngine) PendingDistributionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// GetFeeOptimization 当前费用 vs normal 优先级下的网络最优费用
func (e *FeeEngine) GetFeeOptimization(ctx context.Context, req *model.PaymentRequest) (*FeeOptimization, error) {
	current, err := e.CalculateOptimalFee(ctx, req)
	if err != nil {
		return nil, err
	}

	optReq := *req
	optReq.Priority = model.PriorityNormal
	optimal, err := e.calc.CalculateFee(&optReq)
	if err != nil {
		return nil, err
	}

	savings := current.TotalFee.Sub(optimal.TotalFee)
	if savings.IsNegative() {
		savings = decimal.Zero
	}

	net := e.NetworkConditions()
	level := 100
	if net.GasPrice.GreaterThan(e.cfg.GasPriceBaseline) {
		over := net.GasPrice.Sub(e.cfg.GasPriceBaseline).Mul(decimal.NewFromInt(2))
		penalty := int(over.IntPart())
		if penalty > 100 {
			penalty = 100
		}
		level = 100 - penalty
	}

	return &FeeOptimization{
		RecommendedFeeRate:   optimal.FeePercentage,
		EstimatedSavings:     savings,
		BatchOpportunities:   e.PendingDistributionCount(),
		GasOptimizationLevel: level,
	}, nil
}

// RefreshNetworkConditions 刷新网络状态并据此更新动态费率
// gas price 从提交层取，拥堵度用均值回归的随机游走模拟 (没有真实拥堵数据源)
func (e *FeeEngine) RefreshNetworkConditions(ctx context.Context) {
	gasPrice := e.cfg.GasPriceBaseline
	if e.submitter != nil {
		if gp, err := e.submitter.SuggestGasPrice(ctx); err == nil && gp.IsPositive() {
			gasPrice = gp
		}
	}

	e.mu.Lock()
	congestion := e.network.Congestion
	step := decimal.NewFromFloat((rand.Float64() - 0.5) * 0.2)
	congestion = congestion.Add(step)
	if congestion.LessThan(decimal.NewFromFloat(0.5)) {
		congestion = decimal.NewFromFloat(0.5)
	}
	if congestion.GreaterThan(decimal.NewFromInt(2)) {
		congestion = decimal.NewFromInt(2)
	}
	e.network = NetworkConditions{
		GasPrice:   gasPrice,
		Congestion: congestion,
		UpdatedAt:  e.clock.Now(),
	}
	e.mu.Unlock()

	e.calc.UpdateDynamicFeeRates(gasPrice, congestion)
}

func (e *FeeEngine) maybeRefreshNetwork(ctx context.Context) {
	e.mu.Lock()
	stale := e.clock.Now().Sub(e.network.UpdatedAt) > e.cfg.CacheTTL
	e.mu.Unlock()
	if stale {
		e.RefreshNetworkConditions(ctx)
	}
}

// NetworkConditions 网络状态快照
func (e *FeeEngine) NetworkConditions() NetworkConditions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.network
}

// Analytics 累计统计快照
func (e *FeeEngine) Analytics() FeeAnalytics {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := FeeAnalytics{
		Calculations:  e.analytics.Calculations,
		TotalFees:     e.analytics.TotalFees,
		TotalDust:     e.analytics.TotalDust,
		FeesByToken:   make(map[string]decimal.Decimal, len(e.analytics.FeesByToken)),
		VolumeByToken: make(map[string]decimal.Decimal, len(e.analytics.VolumeByToken)),
		BucketTotals:  make(map[model.DistributionType]decimal.Decimal, len(e.analytics.BucketTotals)),
	}
	for k, v := range e.analytics.FeesByToken {
		out.FeesByToken[k] = v
	}
	for k, v := range e.analytics.VolumeByToken {
		out.VolumeByToken[k] = v
	}
	for k, v := range e.analytics.BucketTotals {
		out.BucketTotals[k] = v
	}
	return out
}

// RollupTrends 把当前累计统计滚入趋势序列 (调度器每分钟调用一次)
// 小时序列封顶 24 点，天 30 点，周 52 点
func (e *FeeEngine) RollupTrends() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	point := TrendPoint{
		Timestamp:    now,
		TotalFees:    e.analytics.TotalFees,
		Calculations: e.analytics.Calculations,
	}

	if e.lastHourly.IsZero() || now.Sub(e.lastHourly) >= time.Hour {
		e.trends.Hourly = appendCapped(e.trends.Hourly, point, 24)
		e.lastHourly = now
	}
	if e.lastDaily.IsZero() || now.Sub(e.lastDaily) >= 24*time.Hour {
		e.trends.Daily = appendCapped(e.trends.Daily, point, 30)
		e.lastDaily = now
	}
	if e.lastWeekly.IsZero() || now.Sub(e.lastWeekly) >= 7*24*time.Hour {
		e.trends.Weekly = appendCapped(e.trends.Weekly, point, 52)
		e.lastWeekly = now
	}
}

func appendCapped(series []TrendPoint, p TrendPoint, limit int) []TrendPoint {
	series = append(series, p)
	if len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series
}

// Trends 趋势序列快照
func (e *FeeEngine) Trends() FeeTrends {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := FeeTrends{
		Hourly: make([]TrendPoint, len(e.trends.Hourly)),
		Daily:  make([]TrendPoint, len(e.trends.Daily)),
		Weekly: make([]TrendPoint, len(e.trends.Weekly)),
	}
	copy(out.Hourly, e.trends.Hourly)
	copy(out.Daily, e.trends.Daily)
	copy(out.Weekly, e.trends.Weekly)
	return out
}
