package main

import (
	"fmt"
	"time"

	"payment-core/internal/event"
	"payment-core/internal/handler"
	"payment-core/internal/model"
	"payment-core/internal/server"
	"payment-core/internal/service"
	"payment-core/internal/service/chain"
	"payment-core/internal/service/mq"

	"payment-core/pkg/cache"
	"payment-core/pkg/config"
	"payment-core/pkg/database"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/utils/lock"
	"payment-core/pkg/validator"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// @title Payment Core API
// @version 1.0
// @description Payment Queueing & Fee Distribution API

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()

	// 初始化 Validator
	validator.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 1.5 初始化业务监控指标
	monitor.Init()
	monitor.InitBusinessMetrics()

	// 2. 连接数据库 (可选, 分发回执审计用)
	var db *gorm.DB
	if config.Global.DB.Enabled {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			config.Global.DB.Host,
			config.Global.DB.User,
			config.Global.DB.Password,
			config.Global.DB.Name,
			config.Global.DB.Port,
		)
		var err error
		db, err = database.ConnectPostgres(dsn)
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}
	}

	// 3. 连接 Redis (可选, 二级缓存 + 清算分布式锁 + Redis Streams)
	var feeCache cache.Cache = cache.NewMemoryCache(1*time.Minute, 5*time.Minute)
	var distLock lock.DistributedLock
	var producer mq.Producer
	if config.Global.Redis.Enabled {
		rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
		if err != nil {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		defer rdb.Close()

		feeCache = cache.NewMultiLevelCache(
			cache.NewMemoryCache(1*time.Minute, 5*time.Minute),
			cache.NewRedisCache(rdb),
		)
		distLock = lock.NewRedisLock(rdb)

		if config.Global.Redis.MQType == "redis" {
			logger.Info("使用 Redis Streams 作为事件通道...")
			producer = mq.NewRedisProducer(rdb)
		}
	}
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为事件通道...")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	}

	var bus event.Bus = event.NewMemoryBus()
	if producer != nil {
		bus = event.NewMQBus(producer)
	}

	// 4. 链上提交器 (RPC 不可达时自动退化为模拟模式)
	submitter := chain.NewEthSubmitter(config.Global.Chain.RpcUrl)
	submitTimeout := time.Duration(config.Global.Chain.SubmitTimeoutMs) * time.Millisecond

	// 5. 解析代币表
	tokens := make(map[string]model.TokenSpec, len(config.Global.Fee.SupportedTokens))
	for _, t := range config.Global.Fee.SupportedTokens {
		tokens[t.Symbol] = model.TokenSpec{
			Symbol:   t.Symbol,
			Kind:     model.TransferKind(t.Kind),
			Contract: t.Contract,
			Decimals: t.Decimals,
		}
	}
	if len(tokens) == 0 {
		tokens["ETH"] = model.TokenSpec{Symbol: "ETH", Kind: model.KindNative, Decimals: 18}
	}

	clock := service.SystemClock()

	// 6. 费用计算器 + 引擎
	minFee, err := decimal.NewFromString(config.Global.Fee.MinFee)
	if err != nil {
		logger.Fatal("min_fee 配置非法", zap.Error(err))
	}
	multipliers := make(map[model.Priority]decimal.Decimal, len(config.Global.Fee.PriorityMultiplier))
	for p, m := range config.Global.Fee.PriorityMultiplier {
		multipliers[model.Priority(p)] = decimal.NewFromFloat(m)
	}
	calculator := service.NewFeeCalculator(service.FeeCalculatorConfig{
		BaseRate:           decimal.NewFromFloat(config.Global.Fee.FeePercentage),
		MinFee:             minFee,
		GasPriceBaseline:   decimal.NewFromFloat(config.Global.Fee.GasPriceBaseline),
		PriorityMultiplier: multipliers,
		Tokens:             tokens,
	})

	recipients := make(map[model.DistributionType]string, len(config.Global.Distribution.Recipients))
	for bucket, addr := range config.Global.Distribution.Recipients {
		recipients[model.DistributionType(bucket)] = addr
	}
	if recipients[model.DistStaking] == "" && config.Global.Staking.PoolAddress != "" {
		recipients[model.DistStaking] = config.Global.Staking.PoolAddress
	}

	engine := service.NewFeeEngine(calculator, feeCache, submitter, bus, clock, service.FeeEngineConfig{
		CacheTTL:         time.Duration(config.Global.Fee.CacheTTLSeconds) * time.Second,
		GasPriceBaseline: decimal.NewFromFloat(config.Global.Fee.GasPriceBaseline),
		Recipients:       recipients,
	})

	// 7. 费用分发器 (含质押池账本)
	minDist, err := decimal.NewFromString(config.Global.Distribution.MinDistributionAmount)
	if err != nil {
		logger.Fatal("min_distribution_amount 配置非法", zap.Error(err))
	}
	distributor := service.NewFeeDistributor(service.DistributorConfig{
		BatchSize:             config.Global.Distribution.BatchSize,
		MaxRetries:            config.Global.Distribution.MaxRetries,
		RetryDelay:            time.Duration(config.Global.Distribution.RetryDelayMs) * time.Millisecond,
		MinDistributionAmount: minDist,
		MaxPendingAge:         time.Duration(config.Global.Distribution.MaxPendingAgeHours) * time.Hour,
		SubmitTimeout:         submitTimeout,
		StakingPoolAddress:    config.Global.Staking.PoolAddress,
		RewardRate:            decimal.NewFromFloat(config.Global.Staking.RewardRate),
		LockupPeriod:          time.Duration(config.Global.Staking.LockupPeriodHours) * time.Hour,
		Tokens:                tokens,
	}, submitter, bus, clock, db)

	// 8. 支付处理器
	weights := make(map[model.Priority]float64, len(config.Global.Payment.PriorityWeight))
	for p, w := range config.Global.Payment.PriorityWeight {
		weights[model.Priority(p)] = w
	}
	processor := service.NewPaymentProcessor(service.ProcessorConfig{
		MaxQueueSize:    config.Global.Payment.MaxQueueSize,
		MaxBatchSize:    config.Global.Payment.MaxBatchSize,
		BatchTimeout:    time.Duration(config.Global.Payment.BatchTimeoutMs) * time.Millisecond,
		WorkerPoolSize:  config.Global.Payment.WorkerPoolSize,
		IdlePoll:        time.Duration(config.Global.Payment.IdlePollMs) * time.Millisecond,
		PriorityWeights: weights,
		SubmitTimeout:   submitTimeout,
		Tokens:          tokens,
	}, engine, submitter, bus, clock)
	processor.Start()

	// 9. 周期任务: 队列重排 / 分发清算 / 行情刷新
	scheduler := service.NewScheduler(processor, engine, distributor, distLock,
		time.Duration(config.Global.Distribution.SweepIntervalSeconds)*time.Second)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("调度器启动失败", zap.Error(err))
	}

	// 10. HTTP Router
	r := server.NewHTTPRouter(server.Handlers{
		Payment:      handler.NewPaymentHandler(processor),
		Fee:          handler.NewFeeHandler(engine, calculator),
		Distribution: handler.NewDistributionHandler(distributor),
		Staking:      handler.NewStakingHandler(distributor),
	})

	// 11. 启动应用 (阻塞)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	app.OnShutdown(scheduler.Stop)
	app.OnShutdown(processor.Stop)
	app.OnShutdown(distributor.Wait)
	app.Run()

	// 12. 退出后资源清理
	if db != nil {
		logger.Info("正在关闭数据库连接...")
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Info("系统已退出")
}
