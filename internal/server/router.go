package server

import (
	"payment-core/internal/handler"
	"payment-core/internal/handler/response"

	"payment-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handlers 业务 Handler 集合, 由 main 装配好注入
type Handlers struct {
	Payment      *handler.PaymentHandler
	Fee          *handler.FeeHandler
	Distribution *handler.DistributionHandler
	Staking      *handler.StakingHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware()) // 监控埋点

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler())) // 暴露给 Prometheus
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		payments := api.Group("/payments")
		{
			payments.POST("", h.Payment.SubmitPayment)
			payments.GET("/metrics", h.Payment.GetMetrics)
			payments.GET("/:id", h.Payment.GetPaymentStatus)
		}

		fees := api.Group("/fees")
		{
			fees.POST("/calculate", h.Fee.CalculateFee)
			fees.POST("/batch", h.Fee.CalculateBatchFees)
			fees.POST("/estimate", h.Fee.EstimateFee)
			fees.POST("/optimize", h.Fee.OptimizeFee)
			fees.GET("/analytics", h.Fee.GetAnalytics)
		}

		distributions := api.Group("/distributions")
		{
			distributions.POST("", h.Distribution.QueueDistributions)
			distributions.GET("/stats", h.Distribution.GetStats)
			distributions.POST("/retry", h.Distribution.RetryFailed)
			distributions.GET("/:id", h.Distribution.GetBatch)
		}

		staking := api.Group("/staking")
		{
			staking.GET("/pool", h.Staking.GetPool)
			staking.POST("/stake", h.Staking.Stake)
			staking.POST("/unstake", h.Staking.Unstake)
			staking.GET("/rewards/:address", h.Staking.GetRewards)
			staking.POST("/distribute", h.Staking.DistributeRewards)
		}
	}

	return r
}
