package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/model"
	"payment-core/pkg/errno"
)

func newTestCalculator() *FeeCalculator {
	return NewFeeCalculator(FeeCalculatorConfig{
		BaseRate:         decimal.NewFromFloat(0.003),
		MinFee:           decimal.RequireFromString("1000000000000000"), // 0.001 ETH
		GasPriceBaseline: decimal.NewFromInt(30),
		Tokens:           testTokens(),
	})
}

func TestCalculateFeeOneEther(t *testing.T) {
	c := newTestCalculator()

	// 1 ETH x 0.3% = 3e15, 按 40/30/20/10 整除无余数
	b, err := c.CalculateFee(paymentReq("tx1", eth(1), model.PriorityNormal))
	require.NoError(t, err)

	assert.Equal(t, "3000000000000000", b.TotalFee.String())
	assert.Equal(t, "1200000000000000", b.PlatformFee.String())
	assert.Equal(t, "900000000000000", b.NetworkFee.String())
	assert.Equal(t, "600000000000000", b.AgentFee.String())
	assert.Equal(t, "300000000000000", b.StakingRewards.String())
	assert.True(t, b.Dust.IsZero())
}

func TestCalculateFeeSplitInvariant(t *testing.T) {
	c := newTestCalculator()

	// 刻意选不能整除的金额，余数并入 platform 后各桶之和必须等于总额
	amounts := []string{"1", "7", "333333333333333337", "999999999999999999"}
	for _, s := range amounts {
		amt := decimal.RequireFromString(s)
		b, err := c.CalculateFee(paymentReq("tx", amt, model.PriorityNormal))
		require.NoError(t, err)

		sum := b.PlatformFee.Add(b.NetworkFee).Add(b.AgentFee).Add(b.StakingRewards)
		assert.True(t, sum.Equal(b.TotalFee), "amount=%s: sum=%s total=%s", s, sum, b.TotalFee)
		assert.False(t, b.Dust.IsNegative())
	}
}

func TestCalculateFeeMinFeeFloor(t *testing.T) {
	c := newTestCalculator()

	// 小额的百分比费用低于 MinFee 时取 MinFee
	b, err := c.CalculateFee(paymentReq("tx", decimal.NewFromInt(1000), model.PriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", b.TotalFee.String())
}

func TestCalculateFeeValidation(t *testing.T) {
	c := newTestCalculator()

	_, err := c.CalculateFee(paymentReq("tx", eth(1), model.PriorityNormal))
	require.NoError(t, err)

	req := paymentReq("tx", eth(1), model.PriorityNormal)
	req.Token = "DOGE"
	_, err = c.CalculateFee(req)
	assert.ErrorIs(t, err, errno.ErrUnsupportedToken)

	_, err = c.CalculateFee(paymentReq("tx", decimal.Zero, model.PriorityNormal))
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)

	_, err = c.CalculateFee(paymentReq("tx", decimal.NewFromInt(-5), model.PriorityNormal))
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)

	_, err = c.CalculateFee(paymentReq("tx", decimal.RequireFromString("1.5"), model.PriorityNormal))
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)
}

func TestPriorityMultipliers(t *testing.T) {
	c := newTestCalculator()

	normal, err := c.CalculateFee(paymentReq("tx", eth(10), model.PriorityNormal))
	require.NoError(t, err)
	critical, err := c.CalculateFee(paymentReq("tx", eth(10), model.PriorityCritical))
	require.NoError(t, err)
	low, err := c.CalculateFee(paymentReq("tx", eth(10), model.PriorityLow))
	require.NoError(t, err)

	assert.True(t, critical.TotalFee.Equal(normal.TotalFee.Mul(decimal.NewFromInt(2))))
	assert.True(t, low.TotalFee.LessThan(normal.TotalFee))
}

func TestVolumeDiscountAndRateFloor(t *testing.T) {
	c := newTestCalculator()

	req := paymentReq("tx", eth(10), model.PriorityNormal)
	before, err := c.CalculateFee(req)
	require.NoError(t, err)

	c.SetVolumeDiscount("0xfrom", decimal.NewFromFloat(0.5))
	after, err := c.CalculateFee(req)
	require.NoError(t, err)
	assert.True(t, after.TotalFee.LessThan(before.TotalFee))

	// 折扣再大，费率也不会低于 0.1x 基础费率
	c.SetVolumeDiscount("0xfrom", decimal.NewFromFloat(0.99))
	floored, err := c.CalculateFee(req)
	require.NoError(t, err)
	wantRate := decimal.NewFromFloat(0.003).Mul(decimal.NewFromFloat(0.1))
	assert.True(t, floored.FeePercentage.Equal(wantRate))
}

func TestBatchFeeDiscountSteps(t *testing.T) {
	c := newTestCalculator()

	tests := []struct {
		n    int
		want string
	}{
		{1, "0"},
		{9, "0"},
		{10, "0.1"},
		{19, "0.1"},
		{20, "0.2"},
		{50, "0.3"},
		{99, "0.3"},
		{100, "0.4"},
		{500, "0.4"},
	}
	for _, tt := range tests {
		got := c.CalculateBatchFeeDiscount(tt.n)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "n=%d got=%s", tt.n, got)
	}

	// 单调不减
	prev := decimal.Zero
	for n := 1; n <= 200; n++ {
		d := c.CalculateBatchFeeDiscount(n)
		assert.False(t, d.LessThan(prev), "discount decreased at n=%d", n)
		prev = d
	}
}

func TestDynamicRateClamp(t *testing.T) {
	c := newTestCalculator()
	base := decimal.NewFromFloat(0.003)

	// gasPrice 远高于 baseline: ETH 费率钳到 2x
	c.UpdateDynamicFeeRates(decimal.NewFromInt(300), decimal.NewFromInt(1))
	assert.True(t, c.DynamicRate("ETH").Equal(base.Mul(decimal.NewFromInt(2))))

	// gasPrice 远低于 baseline: 钳到 0.5x
	c.UpdateDynamicFeeRates(decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.True(t, c.DynamicRate("ETH").Equal(base.Mul(decimal.NewFromFloat(0.5))))

	// 非 ETH 代币跟随拥堵系数
	c.UpdateDynamicFeeRates(decimal.NewFromInt(30), decimal.NewFromFloat(1.5))
	assert.True(t, c.DynamicRate("USDC").Equal(base.Mul(decimal.NewFromFloat(1.5))))
}

func TestGasOptimizedFeeAddsToNetworkBucket(t *testing.T) {
	c := newTestCalculator()

	plain, err := c.CalculateFee(paymentReq("tx", eth(1), model.PriorityNormal))
	require.NoError(t, err)

	gasPrice := decimal.NewFromInt(40)
	withGas, err := c.CalculateGasOptimizedFee(paymentReq("tx", eth(1), model.PriorityNormal), 21000, gasPrice)
	require.NoError(t, err)

	gasCost := gasPrice.Mul(decimal.NewFromInt(21000))
	assert.True(t, withGas.TotalFee.Equal(plain.TotalFee.Add(gasCost)))
	assert.True(t, withGas.NetworkFee.Equal(plain.NetworkFee.Add(gasCost)))
	// 其他桶不受 gas 影响
	assert.True(t, withGas.PlatformFee.Equal(plain.PlatformFee))
}

func TestFeeEstimationBounds(t *testing.T) {
	c := newTestCalculator()

	est, err := c.GetFeeEstimation(eth(1), "ETH", "0xaddr")
	require.NoError(t, err)

	assert.True(t, est.MinFee.LessThanOrEqual(est.EstimatedFee), "min=%s est=%s", est.MinFee, est.EstimatedFee)
	assert.True(t, est.EstimatedFee.LessThanOrEqual(est.MaxFee), "est=%s max=%s", est.EstimatedFee, est.MaxFee)
	require.NotNil(t, est.Breakdown)
	assert.True(t, est.Breakdown.TotalFee.Equal(est.EstimatedFee))
}
