package request

// SubmitPaymentRequest 提交支付请求
type SubmitPaymentRequest struct {
	From     string `json:"from" binding:"required"`
	To       string `json:"to" binding:"required"`
	Amount   string `json:"amount" binding:"required"` // 最小单位整数, 十进制字符串
	Token    string `json:"token" binding:"required"`
	Priority string `json:"priority" binding:"omitempty,oneof=low normal high critical"`
}
