package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
)

type PaymentHandler struct {
	processor *service.PaymentProcessor
}

func NewPaymentHandler(processor *service.PaymentProcessor) *PaymentHandler {
	return &PaymentHandler{processor: processor}
}

// parseAmount 金额必须是最小单位的正整数十进制字符串
func parseAmount(s string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errno.ErrInvalidAmount
	}
	return amt, nil
}

func parsePriority(s string) model.Priority {
	if s == "" {
		return model.PriorityNormal
	}
	return model.Priority(s)
}

// SubmitPayment 提交支付
// @Summary 提交支付
// @Description 校验后进入优先级队列，异步批量执行
// @Tags Payment
// @Accept json
// @Produce json
// @Param request body request.SubmitPaymentRequest true "Payment Request"
// @Success 200 {object} response.Response
// @Router /api/v1/payments [post]
func (h *PaymentHandler) SubmitPayment(c *gin.Context) {
	// 1. 绑定参数
	var req request.SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	amt, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	// 2. 调用 Service
	tx, err := h.processor.SubmitPayment(c.Request.Context(), &model.PaymentRequest{
		From:     req.From,
		To:       req.To,
		Amount:   amt,
		Token:    req.Token,
		Priority: parsePriority(req.Priority),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, tx)
}

// GetPaymentStatus 查询支付状态
// @Summary 查询支付状态
// @Tags Payment
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} response.Response
// @Router /api/v1/payments/{id} [get]
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	tx, err := h.processor.GetPaymentStatus(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// GetMetrics 处理指标快照
// @Summary 处理指标快照
// @Description 吞吐、延迟、成功率和分币种累计
// @Tags Payment
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/payments/metrics [get]
func (h *PaymentHandler) GetMetrics(c *gin.Context) {
	response.Success(c, h.processor.Metrics())
}
