package handler

import (
	"github.com/gin-gonic/gin"

	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
)

type DistributionHandler struct {
	distributor *service.FeeDistributor
}

func NewDistributionHandler(distributor *service.FeeDistributor) *DistributionHandler {
	return &DistributionHandler{distributor: distributor}
}

// QueueDistributions 手动入桶一批分发
// @Summary 手动入桶一批分发
// @Tags Distribution
// @Accept json
// @Produce json
// @Param request body []model.FeeDistribution true "Distributions"
// @Success 200 {object} response.Response
// @Router /api/v1/distributions [post]
func (h *DistributionHandler) QueueDistributions(c *gin.Context) {
	var dists []model.FeeDistribution
	if err := c.ShouldBindJSON(&dists); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	if err := h.distributor.QueueDistributions(dists); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"queued": len(dists)})
}

// GetStats 分发统计
// @Summary 分发统计
// @Tags Distribution
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/distributions/stats [get]
func (h *DistributionHandler) GetStats(c *gin.Context) {
	response.Success(c, h.distributor.Stats())
}

// GetBatch 查询分发批次
// @Summary 查询分发批次
// @Tags Distribution
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Response
// @Router /api/v1/distributions/{id} [get]
func (h *DistributionHandler) GetBatch(c *gin.Context) {
	batch, ok := h.distributor.GetBatch(c.Param("id"))
	if !ok {
		response.Error(c, errno.ErrBatchNotFound)
		return
	}
	response.Success(c, batch)
}

// RetryFailed 重试失败批次
// @Summary 重试失败批次
// @Description 把仍在重试上限内的失败批次重新入列
// @Tags Distribution
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/distributions/retry [post]
func (h *DistributionHandler) RetryFailed(c *gin.Context) {
	n := h.distributor.RetryFailedDistributions()
	response.Success(c, gin.H{"retried": n})
}
