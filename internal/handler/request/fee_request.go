package request

// CalculateFeeRequest 单笔费用计算请求
type CalculateFeeRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Token    string `json:"token" binding:"required"`
	Priority string `json:"priority" binding:"omitempty,oneof=low normal high critical"`
}

// BatchFeeRequest 批量费用计算请求 (含批量折扣)
type BatchFeeRequest struct {
	Payments []CalculateFeeRequest `json:"payments" binding:"required,min=1,dive"`
}

// FeeEstimateRequest 费用区间预估请求
type FeeEstimateRequest struct {
	Amount   string `json:"amount" binding:"required"`
	Token    string `json:"token" binding:"required"`
	Priority string `json:"priority" binding:"omitempty,oneof=low normal high critical"`
}
