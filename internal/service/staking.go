package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

// AddToStakingPool 质押
// 金额必须是正整数 (最小单位)；重复质押刷新锁仓起点
func (d *FeeDistributor) AddToStakingPool(address string, amount decimal.Decimal) error {
	if address == "" || !amount.IsPositive() || !amount.Equal(amount.Floor()) {
		return errno.ErrInvalidAmount
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pool.Stakeholders[address] = d.pool.Stakeholders[address].Add(amount)
	d.pool.TotalStaked = d.pool.TotalStaked.Add(amount)
	d.stakeTimes[address] = d.clock.Now()

	if monitor.Business != nil {
		total, _ := d.pool.TotalStaked.Float64()
		monitor.Business.StakingPoolTotal.Set(total)
	}
	return nil
}

// Unstake 解押，锁仓期内拒绝
func (d *FeeDistributor) Unstake(address string, amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Floor()) {
		return errno.ErrInvalidAmount
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	staked, ok := d.pool.Stakeholders[address]
	if !ok {
		return errno.ErrStakeholderNotFound
	}
	if d.clock.Now().Sub(d.stakeTimes[address]) < d.pool.LockupPeriod {
		return errno.ErrStakeLocked
	}
	if amount.GreaterThan(staked) {
		return errno.ErrInsufficientStake
	}

	remaining := staked.Sub(amount)
	if remaining.IsZero() {
		delete(d.pool.Stakeholders, address)
		delete(d.stakeTimes, address)
	} else {
		d.pool.Stakeholders[address] = remaining
	}
	d.pool.TotalStaked = d.pool.TotalStaked.Sub(amount)

	if monitor.Business != nil {
		total, _ := d.pool.TotalStaked.Float64()
		monitor.Business.StakingPoolTotal.Set(total)
	}
	return nil
}

// CalculateStakingRewards 按质押占比折算当前可领奖励 (全币种奖励池合计, 向下取整)
// 池子为空时返回 0
func (d *FeeDistributor) CalculateStakingRewards(address string) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rewardShareLocked(address, d.feePoolTotalLocked())
}

func (d *FeeDistributor) feePoolTotalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, v := range d.stakingFeePool {
		total = total.Add(v)
	}
	return total
}

func (d *FeeDistributor) rewardShareLocked(address string, pool decimal.Decimal) decimal.Decimal {
	if d.pool.TotalStaked.IsZero() {
		return decimal.Zero
	}
	stake, ok := d.pool.Stakeholders[address]
	if !ok {
		return decimal.Zero
	}
	return stake.Mul(pool).Div(d.pool.TotalStaked).Floor()
}

// DistributeStakingRewards 把已到账的奖励池按占比拆给质押人，作为 staking 分发重新入桶
// 取整后的余量留在池内，滚入下一轮
func (d *FeeDistributor) DistributeStakingRewards(ctx context.Context) (int, error) {
	d.mu.Lock()

	if d.pool.TotalStaked.IsZero() || len(d.pool.Stakeholders) == 0 {
		d.mu.Unlock()
		return 0, errno.ErrEmptyDistribution
	}

	holders := make([]string, 0, len(d.pool.Stakeholders))
	for addr := range d.pool.Stakeholders {
		holders = append(holders, addr)
	}
	sort.Strings(holders)

	queued := 0
	var events []event.StakingRewardsEvent
	for token, pool := range d.stakingFeePool {
		if !pool.IsPositive() {
			continue
		}

		var dists []model.FeeDistribution
		paid := decimal.Zero
		for _, addr := range holders {
			reward := d.rewardShareLocked(addr, pool)
			if !reward.IsPositive() {
				continue
			}
			dists = append(dists, model.FeeDistribution{
				Recipient: addr,
				Amount:    reward,
				Type:      model.DistStaking,
				Token:     token,
			})
			paid = paid.Add(reward)
		}
		if len(dists) == 0 {
			continue
		}

		d.queueLocked(dists)
		d.stakingFeePool[token] = pool.Sub(paid)
		queued += len(dists)

		logger.Info("质押奖励已入列",
			zap.String("token", token),
			zap.Int("stakeholders", len(dists)),
			zap.String("total_reward", paid.String()))

		events = append(events, event.StakingRewardsEvent{
			Stakeholders: len(dists),
			TotalReward:  paid.String(),
			Token:        token,
		})
	}
	d.mu.Unlock()

	for _, evt := range events {
		d.bus.Publish(ctx, event.TopicDistribution, "staking_rewards", evt)
	}

	if queued == 0 {
		return 0, errno.ErrEmptyDistribution
	}
	return queued, nil
}

// StakingPool 质押池快照
func (d *FeeDistributor) StakingPool() model.StakingPool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := *d.pool
	cp.Stakeholders = make(map[string]decimal.Decimal, len(d.pool.Stakeholders))
	for k, v := range d.pool.Stakeholders {
		cp.Stakeholders[k] = v
	}
	return cp
}
