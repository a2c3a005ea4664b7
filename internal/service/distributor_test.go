package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/service/chain"
	"payment-core/pkg/errno"
)

func newTestDistributor(clock Clock, submitter chain.Submitter) (*FeeDistributor, *event.MemoryBus) {
	bus := event.NewMemoryBus()
	d := NewFeeDistributor(DistributorConfig{
		BatchSize:             20,
		MaxRetries:            3,
		RetryDelay:            5 * time.Second,
		MinDistributionAmount: decimal.RequireFromString("1000000000000000"), // 0.001 ETH
		MaxPendingAge:         24 * time.Hour,
		SubmitTimeout:         time.Second,
		StakingPoolAddress:    "0xstakingpool",
		RewardRate:            decimal.NewFromFloat(0.05),
		LockupPeriod:          72 * time.Hour,
		Tokens:                testTokens(),
	}, submitter, bus, clock, nil)
	return d, bus
}

func dist(recipient string, amount decimal.Decimal, typ model.DistributionType) model.FeeDistribution {
	return model.FeeDistribution{Recipient: recipient, Amount: amount, Type: typ, Token: "ETH"}
}

func TestQueueDistributionsValidation(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	assert.ErrorIs(t, d.QueueDistributions(nil), errno.ErrEmptyDistribution)

	// 非正金额和空接收方被静默丢弃
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xa", eth(1), model.DistPlatform),
		dist("", eth(1), model.DistPlatform),
		dist("0xb", decimal.Zero, model.DistPlatform),
	}))
	assert.Equal(t, 1, d.Stats().PendingDistributions)
}

func TestCreateBatchesMergesByRecipient(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	// 同接收方同桶的多笔合并成一笔
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xa", eth(1), model.DistPlatform),
		dist("0xa", eth(2), model.DistPlatform),
		dist("0xb", eth(3), model.DistPlatform),
	}))

	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 1)

	b := batches[0]
	require.Len(t, b.Distributions, 2)
	assert.Equal(t, "ETH", b.Token)
	assert.Equal(t, model.DistPlatform, b.Type)
	assert.True(t, b.TotalAmount.Equal(eth(6)))
	// 接收方按字典序
	assert.Equal(t, "0xa", b.Distributions[0].Recipient)
	assert.True(t, b.Distributions[0].Amount.Equal(eth(3)))
	assert.Equal(t, "0xb", b.Distributions[1].Recipient)

	// 出清后桶被清空
	assert.Equal(t, 0, d.Stats().PendingDistributions)
}

func TestCreateBatchesSeparatesTokenAndType(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	usdc := model.FeeDistribution{Recipient: "0xa", Amount: eth(1), Type: model.DistPlatform, Token: "USDC"}
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xa", eth(1), model.DistPlatform),
		dist("0xa", eth(1), model.DistNetwork),
		usdc,
	}))

	batches := d.CreateDistributionBatches()
	assert.Len(t, batches, 3) // (ETH,platform) (ETH,network) (USDC,platform)
}

func TestCreateBatchesRespectsBatchSize(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	var dists []model.FeeDistribution
	for i := 0; i < 45; i++ {
		dists = append(dists, dist(fmtRecipient(i), eth(1), model.DistPlatform))
	}
	require.NoError(t, d.QueueDistributions(dists))

	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 3) // 20 + 20 + 5
	assert.Len(t, batches[0].Distributions, 20)
	assert.Len(t, batches[1].Distributions, 20)
	assert.Len(t, batches[2].Distributions, 5)
}

func TestSmallAmountsHeldUntilThresholdOrAge(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	tiny := decimal.RequireFromString("100000000000000") // 0.0001 ETH, 低于起付线
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", tiny, model.DistPlatform)}))

	// 未达起付线: 继续挂起
	assert.Empty(t, d.CreateDistributionBatches())
	assert.Equal(t, 1, d.Stats().PendingDistributions)

	// 同接收方累积过线后出清
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", eth(1), model.DistPlatform)}))
	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 1)
	assert.True(t, batches[0].TotalAmount.Equal(tiny.Add(eth(1))))
}

func TestSmallAmountForceFlushedAfterMaxAge(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	tiny := decimal.RequireFromString("100000000000000")
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", tiny, model.DistPlatform)}))

	assert.Empty(t, d.CreateDistributionBatches())

	// 超过 MaxPendingAge 后即使没过线也强制出清
	clock.Advance(24 * time.Hour)
	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 1)
	assert.True(t, batches[0].TotalAmount.Equal(tiny))
	assert.Equal(t, 0, d.Stats().PendingDistributions)
}

func TestProcessBatchSuccess(t *testing.T) {
	clock := newFakeClock()
	submitter := newMockSubmitter()
	d, bus := newTestDistributor(clock, submitter)

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xa", eth(1), model.DistPlatform),
		dist("0xb", eth(2), model.DistPlatform),
	}))
	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 1)

	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	got, ok := d.GetBatch(batches[0].ID)
	require.True(t, ok)
	assert.Equal(t, model.DistBatchCompleted, got.Status)
	assert.NotEmpty(t, got.TransactionHash)
	require.NotNil(t, got.ProcessedAt)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.CompletedBatches)
	assert.True(t, stats.TotalDistributed.Equal(eth(3)))
	assert.True(t, stats.ByType[model.DistPlatform].Equal(eth(3)))
	assert.Equal(t, 1.0, stats.SuccessRate)

	// 每个接收方一条回执
	assert.Len(t, d.Receipts(), 2)
	assert.Len(t, bus.ByTopic(event.TopicDistribution), 1)
}

func TestProcessBatchNotFound(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())
	assert.ErrorIs(t, d.ProcessBatch(context.Background(), "dist_missing"), errno.ErrBatchNotFound)
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	submitter := newMockSubmitter()
	submitter.failures = 2 // 前两次失败，第三次成功
	d, _ := newTestDistributor(clock, submitter)

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", eth(1), model.DistPlatform)}))
	batches := d.CreateDistributionBatches()
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	// 第一次失败: 5s 后重试
	got, _ := d.GetBatch(batches[0].ID)
	assert.Equal(t, model.DistBatchPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	clock.Advance(4 * time.Second)
	assert.Equal(t, 1, submitter.callCount()) // 还没到点

	clock.Advance(time.Second)
	assert.Equal(t, 2, submitter.callCount())

	// 第二次失败: 退避翻倍到 10s
	got, _ = d.GetBatch(batches[0].ID)
	assert.Equal(t, 2, got.RetryCount)
	clock.Advance(9 * time.Second)
	assert.Equal(t, 2, submitter.callCount())
	clock.Advance(time.Second)
	assert.Equal(t, 3, submitter.callCount())

	// 第三次成功
	got, _ = d.GetBatch(batches[0].ID)
	assert.Equal(t, model.DistBatchCompleted, got.Status)
	assert.Equal(t, int64(1), d.Stats().CompletedBatches)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	clock := newFakeClock()
	submitter := newMockSubmitter()
	submitter.failures = 10 // 永远失败
	d, bus := newTestDistributor(clock, submitter)

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", eth(1), model.DistPlatform)}))
	batches := d.CreateDistributionBatches()
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	// 3 次重试 (5s, 10s, 20s) 后终态 failed
	for _, delay := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		clock.Advance(delay)
	}

	got, _ := d.GetBatch(batches[0].ID)
	assert.Equal(t, model.DistBatchFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, 4, submitter.callCount()) // 首次 + 3 次重试
	assert.Equal(t, int64(1), d.Stats().FailedBatches)

	// 重试耗尽后发布 failed 事件
	events := bus.ByTopic(event.TopicDistribution)
	require.NotEmpty(t, events)
	last := events[len(events)-1].Event.(event.DistributionBatchEvent)
	assert.Equal(t, string(model.DistBatchFailed), last.Status)

	// 没有遗留的定时器
	assert.Equal(t, 0, clock.pendingTimers())
}

func TestManualRetryAfterFailure(t *testing.T) {
	clock := newFakeClock()
	submitter := newMockSubmitter()
	submitter.failures = 4 // 首次 + 3 次重试全失败
	d, _ := newTestDistributor(clock, submitter)

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{dist("0xa", eth(1), model.DistPlatform)}))
	batches := d.CreateDistributionBatches()
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))
	for _, delay := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		clock.Advance(delay)
	}

	got, _ := d.GetBatch(batches[0].ID)
	require.Equal(t, model.DistBatchFailed, got.Status)

	// 手动重试清零重试预算并重新提交, 这次成功
	assert.Equal(t, 1, d.RetryFailedDistributions())
	d.Wait()

	got, _ = d.GetBatch(batches[0].ID)
	assert.Equal(t, model.DistBatchCompleted, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func fmtRecipient(i int) string {
	return "0xrecipient" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
}

// gatedSubmitter 把 Submit 挡在闸门后，复现清算调用返回时提交仍在途的时序
type gatedSubmitter struct {
	*mockSubmitter
	gate chan struct{}
}

func (g *gatedSubmitter) Submit(ctx context.Context, spec chain.TransferSpec) (*chain.Receipt, error) {
	<-g.gate
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.mockSubmitter.Submit(ctx, spec)
}

func TestSweepOutlivesSweepCall(t *testing.T) {
	clock := newFakeClock()
	gated := &gatedSubmitter{mockSubmitter: newMockSubmitter(), gate: make(chan struct{})}
	d, _ := newTestDistributor(clock, gated)

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xa", eth(1), model.DistPlatform),
	}))
	require.Equal(t, 1, d.Sweep())

	// Sweep 已经返回而提交还被闸门挡着; 健康的提交方放行后必须成功收尾，
	// 首次尝试不允许因为调用方作用域结束而被取消掉
	close(gated.gate)
	d.Wait()

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.CompletedBatches)
	assert.Equal(t, int64(0), stats.RetriedBatches)
	assert.Equal(t, int64(0), stats.FailedBatches)
	assert.Equal(t, 0, clock.pendingTimers())
}
