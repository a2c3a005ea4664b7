package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"payment-core/pkg/logger"
	"payment-core/pkg/utils/lock"
)

const sweepLockKey = "payment:distribution:sweep"

// Scheduler 周期任务: 队列重排、分发清算、行情刷新与趋势聚合
// 多实例部署时清算任务用分布式锁互斥，其余任务本地执行无妨
type Scheduler struct {
	cron        *cron.Cron
	processor   *PaymentProcessor
	engine      *FeeEngine
	distributor *FeeDistributor
	lock        lock.DistributedLock // 可选
	sweepEvery  time.Duration
}

func NewScheduler(processor *PaymentProcessor, engine *FeeEngine, distributor *FeeDistributor, distLock lock.DistributedLock, sweepEvery time.Duration) *Scheduler {
	if sweepEvery <= 0 {
		sweepEvery = 30 * time.Second
	}
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		processor:   processor,
		engine:      engine,
		distributor: distributor,
		lock:        distLock,
		sweepEvery:  sweepEvery,
	}
}

func (s *Scheduler) Start() error {
	// 1. 队列重排: 年龄项在涨，周期性重算分数
	if _, err := s.cron.AddFunc("*/15 * * * * *", s.processor.Reprioritize); err != nil {
		return err
	}

	// 2. 分发清算
	sweepSpec := "@every " + s.sweepEvery.String()
	if _, err := s.cron.AddFunc(sweepSpec, s.sweepDistributions); err != nil {
		return err
	}

	// 3. 行情刷新 + 趋势聚合
	if _, err := s.cron.AddFunc("0 * * * * *", s.refreshFeeState); err != nil {
		return err
	}

	s.cron.Start()
	logger.Info("调度器已启动", zap.Duration("sweep_every", s.sweepEvery))
	return nil
}

// sweepDistributions 把费用引擎里攒的分发挪进分发器并出清一轮
func (s *Scheduler) sweepDistributions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepEvery)
	defer cancel()

	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, sweepLockKey, s.sweepEvery)
		if err != nil {
			logger.Warn("清算锁获取失败，本轮跳过", zap.Error(err))
			return
		}
		if !ok {
			return // 别的实例在清算
		}
		defer func() {
			if err := s.lock.Release(context.Background(), sweepLockKey); err != nil {
				logger.Warn("清算锁释放失败", zap.Error(err))
			}
		}()
	}

	if pending := s.engine.DrainPendingDistributions(); len(pending) > 0 {
		if err := s.distributor.QueueDistributions(pending); err != nil {
			logger.Error("分发入桶失败", zap.Error(err))
		}
	}

	if n := s.distributor.Sweep(); n > 0 {
		logger.Info("分发清算完成", zap.Int("batches", n))
	}
}

func (s *Scheduler) refreshFeeState() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.engine.RefreshNetworkConditions(ctx)
	s.engine.RollupTrends()
}

// Stop 停止调度并等正在跑的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("调度器已停止")
}
