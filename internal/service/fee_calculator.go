package service

import (
	"sync"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
	"payment-core/pkg/errno"
)

// 四个费用桶的固定分成比例
var defaultRatios = model.FeeRatios{
	Platform: decimal.NewFromFloat(0.40),
	Network:  decimal.NewFromFloat(0.30),
	Agent:    decimal.NewFromFloat(0.20),
	Staking:  decimal.NewFromFloat(0.10),
}

// 动态费率的钳制区间: [0.5x, 2x] 基础费率
var (
	rateClampLow  = decimal.NewFromFloat(0.5)
	rateClampHigh = decimal.NewFromInt(2)
	rateFloor     = decimal.NewFromFloat(0.1) // 折扣后的费率下限: 0.1x 基础费率
)

// FeeCalculatorConfig 纯费用计算的配置面
type FeeCalculatorConfig struct {
	BaseRate           decimal.Decimal // 基础费率, e.g. 0.003
	MinFee             decimal.Decimal // 最小费用 (最小单位整数)
	GasPriceBaseline   decimal.Decimal // gwei, ETH 动态费率以它归一化
	PriorityMultiplier map[model.Priority]decimal.Decimal
	Tokens             map[string]model.TokenSpec
}

// FeeCalculator 纯费用计算
// 状态只有配置、各代币动态费率和各地址的交易量折扣档位，全部是外部可变的缓存
type FeeCalculator struct {
	mu  sync.RWMutex
	cfg FeeCalculatorConfig

	dynamicRates    map[string]decimal.Decimal
	volumeDiscounts map[string]decimal.Decimal
}

func NewFeeCalculator(cfg FeeCalculatorConfig) *FeeCalculator {
	if cfg.PriorityMultiplier == nil {
		cfg.PriorityMultiplier = map[model.Priority]decimal.Decimal{
			model.PriorityLow:      decimal.NewFromFloat(0.9),
			model.PriorityNormal:   decimal.NewFromInt(1),
			model.PriorityHigh:     decimal.NewFromFloat(1.5),
			model.PriorityCritical: decimal.NewFromInt(2),
		}
	}
	if cfg.GasPriceBaseline.IsZero() {
		cfg.GasPriceBaseline = decimal.NewFromInt(30)
	}

	rates := make(map[string]decimal.Decimal, len(cfg.Tokens))
	for sym := range cfg.Tokens {
		rates[sym] = cfg.BaseRate
	}

	return &FeeCalculator{
		cfg:             cfg,
		dynamicRates:    rates,
		volumeDiscounts: make(map[string]decimal.Decimal),
	}
}

// CalculateFee 计算单笔费用并拆成四个桶
// rate = 动态费率 x 优先级乘数 x (1 - 交易量折扣)，下限 0.1x 基础费率
// 各桶独立向下取整，取整余数并入 platform 桶 (Dust 字段记录余数大小)
func (c *FeeCalculator) CalculateFee(req *model.PaymentRequest) (*model.FeeBreakdown, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.cfg.Tokens[req.Token]; !ok {
		return nil, errno.ErrUnsupportedToken
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return nil, errno.ErrInvalidAmount
	}

	rate := c.effectiveRateLocked(req.Token, req.Priority, req.From)

	totalFee := req.Amount.Mul(rate).Floor()
	if totalFee.LessThan(c.cfg.MinFee) {
		totalFee = c.cfg.MinFee
	}

	return c.splitLocked(totalFee, rate), nil
}

// effectiveRateLocked 组合动态费率、优先级乘数和交易量折扣
func (c *FeeCalculator) effectiveRateLocked(token string, priority model.Priority, from string) decimal.Decimal {
	rate, ok := c.dynamicRates[token]
	if !ok {
		rate = c.cfg.BaseRate
	}

	if mult, ok := c.cfg.PriorityMultiplier[priority]; ok {
		rate = rate.Mul(mult)
	}

	if discount, ok := c.volumeDiscounts[from]; ok {
		rate = rate.Mul(decimal.NewFromInt(1).Sub(discount))
	}

	floor := c.cfg.BaseRate.Mul(rateFloor)
	if rate.LessThan(floor) {
		rate = floor
	}
	return rate
}

// splitLocked 固定比例拆桶，余数并入 platform
func (c *FeeCalculator) splitLocked(totalFee, rate decimal.Decimal) *model.FeeBreakdown {
	platform := totalFee.Mul(defaultRatios.Platform).Floor()
	network := totalFee.Mul(defaultRatios.Network).Floor()
	agent := totalFee.Mul(defaultRatios.Agent).Floor()
	staking := totalFee.Mul(defaultRatios.Staking).Floor()

	dust := totalFee.Sub(platform).Sub(network).Sub(agent).Sub(staking)
	platform = platform.Add(dust)

	return &model.FeeBreakdown{
		TotalFee:       totalFee,
		PlatformFee:    platform,
		NetworkFee:     network,
		AgentFee:       agent,
		StakingRewards: staking,
		FeePercentage:  rate,
		Dust:           dust,
		Ratios:         defaultRatios,
	}
}

// CalculateBatchFeeDiscount 批量折扣阶梯函数，对 n 单调不减
func (c *FeeCalculator) CalculateBatchFeeDiscount(n int) decimal.Decimal {
	switch {
	case n >= 100:
		return decimal.NewFromFloat(0.4)
	case n >= 50:
		return decimal.NewFromFloat(0.3)
	case n >= 20:
		return decimal.NewFromFloat(0.2)
	case n >= 10:
		return decimal.NewFromFloat(0.1)
	default:
		return decimal.Zero
	}
}

// CalculateGasOptimizedFee 在常规费用上叠加 gas 成本
// gas x gasPrice 记入 network 桶和总费用
func (c *FeeCalculator) CalculateGasOptimizedFee(req *model.PaymentRequest, gas uint64, gasPrice decimal.Decimal) (*model.FeeBreakdown, error) {
	breakdown, err := c.CalculateFee(req)
	if err != nil {
		return nil, err
	}

	gasCost := gasPrice.Mul(decimal.NewFromUint64(gas)).Floor()
	breakdown.NetworkFee = breakdown.NetworkFee.Add(gasCost)
	breakdown.TotalFee = breakdown.TotalFee.Add(gasCost)
	return breakdown, nil
}

// UpdateDynamicFeeRates 根据网络状态刷新各代币费率
// 普通代币: base x congestion; ETH 用 gasPrice/baseline 归一化; 全部钳制到 [0.5x, 2x] base
func (c *FeeCalculator) UpdateDynamicFeeRates(gasPrice, congestion decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	low := c.cfg.BaseRate.Mul(rateClampLow)
	high := c.cfg.BaseRate.Mul(rateClampHigh)

	for sym := range c.cfg.Tokens {
		mult := congestion
		if sym == "ETH" && c.cfg.GasPriceBaseline.IsPositive() {
			mult = gasPrice.Div(c.cfg.GasPriceBaseline)
		}

		rate := c.cfg.BaseRate.Mul(mult)
		if rate.LessThan(low) {
			rate = low
		}
		if rate.GreaterThan(high) {
			rate = high
		}
		c.dynamicRates[sym] = rate
	}
}

// GetFeeEstimation 返回区间询价
// min 用一半基础费率 (仍受 MinFee 托底)，max 用 2x 当前动态费率
func (c *FeeCalculator) GetFeeEstimation(amount decimal.Decimal, token string, address string) (*model.FeeEstimation, error) {
	req := &model.PaymentRequest{
		From:     address,
		To:       address,
		Amount:   amount,
		Token:    token,
		Priority: model.PriorityNormal,
	}
	breakdown, err := c.CalculateFee(req)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	minFee := amount.Mul(c.cfg.BaseRate.Mul(rateClampLow)).Floor()
	if minFee.LessThan(c.cfg.MinFee) {
		minFee = c.cfg.MinFee
	}

	dynamic, ok := c.dynamicRates[token]
	if !ok {
		dynamic = c.cfg.BaseRate
	}
	maxFee := amount.Mul(dynamic.Mul(rateClampHigh)).Floor()

	return &model.FeeEstimation{
		MinFee:       minFee,
		MaxFee:       maxFee,
		EstimatedFee: breakdown.TotalFee,
		Breakdown:    breakdown,
	}, nil
}

// SetVolumeDiscount 设置某地址的交易量折扣档位 (外部结算任务按月刷新)
func (c *FeeCalculator) SetVolumeDiscount(address string, discount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	c.volumeDiscounts[address] = discount
}

// DynamicRate 读取某代币当前动态费率
func (c *FeeCalculator) DynamicRate(token string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rate, ok := c.dynamicRates[token]; ok {
		return rate
	}
	return c.cfg.BaseRate
}

// BaseRate 配置的基础费率
func (c *FeeCalculator) BaseRate() decimal.Decimal {
	return c.cfg.BaseRate
}

// SupportedToken 查询代币配置
func (c *FeeCalculator) SupportedToken(symbol string) (model.TokenSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.cfg.Tokens[symbol]
	return spec, ok
}
