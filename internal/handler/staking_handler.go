package handler

import (
	"github.com/gin-gonic/gin"

	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/service"
	"payment-core/pkg/errno"
)

type StakingHandler struct {
	distributor *service.FeeDistributor
}

func NewStakingHandler(distributor *service.FeeDistributor) *StakingHandler {
	return &StakingHandler{distributor: distributor}
}

// GetPool 质押池快照
// @Summary 质押池快照
// @Tags Staking
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/staking/pool [get]
func (h *StakingHandler) GetPool(c *gin.Context) {
	response.Success(c, h.distributor.StakingPool())
}

// Stake 质押
// @Summary 质押
// @Tags Staking
// @Accept json
// @Produce json
// @Param request body request.StakeRequest true "Stake Request"
// @Success 200 {object} response.Response
// @Router /api/v1/staking/stake [post]
func (h *StakingHandler) Stake(c *gin.Context) {
	var req request.StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.distributor.AddToStakingPool(req.Address, amt); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.distributor.StakingPool())
}

// Unstake 解押
// @Summary 解押
// @Description 锁仓期内拒绝
// @Tags Staking
// @Accept json
// @Produce json
// @Param request body request.UnstakeRequest true "Unstake Request"
// @Success 200 {object} response.Response
// @Router /api/v1/staking/unstake [post]
func (h *StakingHandler) Unstake(c *gin.Context) {
	var req request.UnstakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.distributor.Unstake(req.Address, amt); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, h.distributor.StakingPool())
}

// GetRewards 按占比折算当前可领奖励
// @Summary 查询可领奖励
// @Tags Staking
// @Produce json
// @Param address path string true "Stakeholder Address"
// @Success 200 {object} response.Response
// @Router /api/v1/staking/rewards/{address} [get]
func (h *StakingHandler) GetRewards(c *gin.Context) {
	address := c.Param("address")
	reward := h.distributor.CalculateStakingRewards(address)
	response.Success(c, gin.H{
		"address": address,
		"reward":  reward.String(),
	})
}

// DistributeRewards 把奖励池按占比拆给质押人
// @Summary 分发质押奖励
// @Tags Staking
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/staking/distribute [post]
func (h *StakingHandler) DistributeRewards(c *gin.Context) {
	n, err := h.distributor.DistributeStakingRewards(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"queued": n})
}
