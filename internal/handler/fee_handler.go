package handler

import (
	"github.com/gin-gonic/gin"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
)

type FeeHandler struct {
	engine     *service.FeeEngine
	calculator *service.FeeCalculator
}

func NewFeeHandler(engine *service.FeeEngine, calculator *service.FeeCalculator) *FeeHandler {
	return &FeeHandler{engine: engine, calculator: calculator}
}

func (h *FeeHandler) buildRequest(req request.CalculateFeeRequest) (*model.PaymentRequest, error) {
	amt, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return &model.PaymentRequest{
		From:     req.From,
		To:       req.To,
		Amount:   amt,
		Token:    req.Token,
		Priority: parsePriority(req.Priority),
	}, nil
}

// CalculateFee 单笔费用计算
// @Summary 单笔费用计算
// @Description 动态费率 + 优先级乘数 + 大客户折扣，命中缓存直接返回
// @Tags Fee
// @Accept json
// @Produce json
// @Param request body request.CalculateFeeRequest true "Fee Request"
// @Success 200 {object} response.Response
// @Router /api/v1/fees/calculate [post]
func (h *FeeHandler) CalculateFee(c *gin.Context) {
	var req request.CalculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	payment, err := h.buildRequest(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	breakdown, err := h.engine.CalculateOptimalFee(c.Request.Context(), payment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, breakdown)
}

// CalculateBatchFees 批量费用计算
// @Summary 批量费用计算
// @Description 按批量大小阶梯折扣
// @Tags Fee
// @Accept json
// @Produce json
// @Param request body request.BatchFeeRequest true "Batch Fee Request"
// @Success 200 {object} response.Response
// @Router /api/v1/fees/batch [post]
func (h *FeeHandler) CalculateBatchFees(c *gin.Context) {
	var req request.BatchFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	payments := make([]*model.PaymentRequest, 0, len(req.Payments))
	for _, item := range req.Payments {
		payment, err := h.buildRequest(item)
		if err != nil {
			response.Error(c, err)
			return
		}
		payments = append(payments, payment)
	}

	result, err := h.engine.CalculateBatchFees(c.Request.Context(), payments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// EstimateFee 费用区间预估
// @Summary 费用区间预估
// @Tags Fee
// @Accept json
// @Produce json
// @Param request body request.FeeEstimateRequest true "Estimate Request"
// @Success 200 {object} response.Response
// @Router /api/v1/fees/estimate [post]
func (h *FeeHandler) EstimateFee(c *gin.Context) {
	var req request.FeeEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	amt, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	est, err := h.calculator.GetFeeEstimation(amt, req.Token, "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, est)
}

// OptimizeFee 费用优化建议
// @Summary 费用优化建议
// @Description 当前费用、建议费用、节省额与 gas 优化程度
// @Tags Fee
// @Accept json
// @Produce json
// @Param request body request.CalculateFeeRequest true "Fee Request"
// @Success 200 {object} response.Response
// @Router /api/v1/fees/optimize [post]
func (h *FeeHandler) OptimizeFee(c *gin.Context) {
	var req request.CalculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	payment, err := h.buildRequest(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	opt, err := h.engine.GetFeeOptimization(c.Request.Context(), payment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, opt)
}

// GetAnalytics 费用分析
// @Summary 费用分析
// @Description 累计统计 + 小时/天/周趋势 + 当前行情
// @Tags Fee
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/fees/analytics [get]
func (h *FeeHandler) GetAnalytics(c *gin.Context) {
	response.Success(c, gin.H{
		"analytics": h.engine.Analytics(),
		"trends":    h.engine.Trends(),
		"network":   h.engine.NetworkConditions(),
	})
}
