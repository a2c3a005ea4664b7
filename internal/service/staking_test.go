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
	"payment-core/pkg/errno"
)

func TestStakeAndUnstake(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	require.NoError(t, d.AddToStakingPool("0xalice", eth(10)))
	require.NoError(t, d.AddToStakingPool("0xbob", eth(30)))
	require.NoError(t, d.AddToStakingPool("0xalice", eth(5)))

	pool := d.StakingPool()
	assert.True(t, pool.TotalStaked.Equal(eth(45)))
	assert.True(t, pool.Stakeholders["0xalice"].Equal(eth(15)))

	// 锁仓期内解押被拒
	assert.ErrorIs(t, d.Unstake("0xbob", eth(10)), errno.ErrStakeLocked)

	clock.Advance(72 * time.Hour)
	require.NoError(t, d.Unstake("0xbob", eth(10)))

	pool = d.StakingPool()
	assert.True(t, pool.TotalStaked.Equal(eth(35)))
	assert.True(t, pool.Stakeholders["0xbob"].Equal(eth(20)))

	// 全部解押后从账本移除
	require.NoError(t, d.Unstake("0xbob", eth(20)))
	_, exists := d.StakingPool().Stakeholders["0xbob"]
	assert.False(t, exists)
}

func TestStakeValidation(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	assert.ErrorIs(t, d.AddToStakingPool("", eth(1)), errno.ErrInvalidAmount)
	assert.ErrorIs(t, d.AddToStakingPool("0xa", decimal.Zero), errno.ErrInvalidAmount)
	assert.ErrorIs(t, d.AddToStakingPool("0xa", decimal.RequireFromString("1.5")), errno.ErrInvalidAmount)

	assert.ErrorIs(t, d.Unstake("0xnobody", eth(1)), errno.ErrStakeholderNotFound)

	require.NoError(t, d.AddToStakingPool("0xa", eth(1)))
	clock.Advance(72 * time.Hour)
	assert.ErrorIs(t, d.Unstake("0xa", eth(2)), errno.ErrInsufficientStake)
}

func TestStakingInvariantTotalEqualsSum(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	require.NoError(t, d.AddToStakingPool("0xa", eth(7)))
	require.NoError(t, d.AddToStakingPool("0xb", eth(11)))
	clock.Advance(72 * time.Hour)
	require.NoError(t, d.Unstake("0xa", eth(3)))

	pool := d.StakingPool()
	sum := decimal.Zero
	for _, v := range pool.Stakeholders {
		sum = sum.Add(v)
	}
	assert.True(t, pool.TotalStaked.Equal(sum))
}

func TestRewardsZeroWhenPoolEmpty(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	assert.True(t, d.CalculateStakingRewards("0xanyone").IsZero())

	_, err := d.DistributeStakingRewards(context.Background())
	assert.ErrorIs(t, err, errno.ErrEmptyDistribution)
}

// 完成一个 staking 桶的分发后奖励池到账，按占比计提
func TestStakingRewardsAccrueAndDistribute(t *testing.T) {
	clock := newFakeClock()
	submitter := newMockSubmitter()
	d, bus := newTestDistributor(clock, submitter)

	require.NoError(t, d.AddToStakingPool("0xalice", eth(25)))
	require.NoError(t, d.AddToStakingPool("0xbob", eth(75)))

	// staking 桶的费用分发到质押池地址，完成后才计入奖励池
	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xstakingpool", eth(4), model.DistStaking),
	}))
	batches := d.CreateDistributionBatches()
	require.Len(t, batches, 1)
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	// 25% / 75% 占比
	assert.True(t, d.CalculateStakingRewards("0xalice").Equal(eth(1)))
	assert.True(t, d.CalculateStakingRewards("0xbob").Equal(eth(3)))
	assert.True(t, d.CalculateStakingRewards("0xnobody").IsZero())

	// 分发奖励: 两个质押人各一笔, 重新入桶等待清算
	n, err := d.DistributeStakingRewards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 奖励池已经清空
	assert.True(t, d.CalculateStakingRewards("0xalice").IsZero())

	// 奖励批次完成后付给质押人 (接收方不是池地址, 不会再次计提)
	rewardBatches := d.CreateDistributionBatches()
	require.Len(t, rewardBatches, 1)
	require.NoError(t, d.ProcessBatch(context.Background(), rewardBatches[0].ID))
	assert.True(t, d.CalculateStakingRewards("0xalice").IsZero())

	var rewardEvents []event.StakingRewardsEvent
	for _, e := range bus.ByTopic(event.TopicDistribution) {
		if evt, ok := e.Event.(event.StakingRewardsEvent); ok {
			rewardEvents = append(rewardEvents, evt)
		}
	}
	require.Len(t, rewardEvents, 1)
	assert.Equal(t, 2, rewardEvents[0].Stakeholders)
	assert.Equal(t, eth(4).String(), rewardEvents[0].TotalReward)
}

func TestStakingRewardsFloorRoundsDown(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	require.NoError(t, d.AddToStakingPool("0xa", decimal.NewFromInt(1)))
	require.NoError(t, d.AddToStakingPool("0xb", decimal.NewFromInt(2)))

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		dist("0xstakingpool", eth(1), model.DistStaking),
	}))
	batches := d.CreateDistributionBatches()
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	// 1/3 份额向下取整
	reward := d.CalculateStakingRewards("0xa")
	assert.True(t, reward.Equal(reward.Floor()))
	want := eth(1).Div(decimal.NewFromInt(3)).Floor()
	assert.True(t, reward.Equal(want))
}

func TestRewardDistributionSkipsDustShares(t *testing.T) {
	clock := newFakeClock()
	d, _ := newTestDistributor(clock, newMockSubmitter())

	// 池子只有 2 wei, 占比 1/2: 各 1 wei; 若池子只有 1 wei, 小占比取整到 0 被跳过
	require.NoError(t, d.AddToStakingPool("0xa", decimal.NewFromInt(1)))
	require.NoError(t, d.AddToStakingPool("0xb", decimal.NewFromInt(999)))

	require.NoError(t, d.QueueDistributions([]model.FeeDistribution{
		{Recipient: "0xstakingpool", Amount: decimal.NewFromInt(100), Type: model.DistStaking, Token: "ETH"},
	}))
	batches := d.CreateDistributionBatches()
	// 100 wei 低于起付线, 强制超龄出清
	clock.Advance(24 * time.Hour)
	batches = d.CreateDistributionBatches()
	require.Len(t, batches, 1)
	require.NoError(t, d.ProcessBatch(context.Background(), batches[0].ID))

	// 0xa 的份额 100/1000 = 0.1 -> 取整 0, 被跳过; 只有 0xb 入列
	n, err := d.DistributeStakingRewards(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
