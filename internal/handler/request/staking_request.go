package request

// StakeRequest 质押请求
type StakeRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"` // 最小单位整数, 十进制字符串
}

// UnstakeRequest 解押请求
type UnstakeRequest struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}
