package event

import "time"

// Topics
const (
	TopicPayment      = "payment_events"
	TopicFee          = "fee_events"
	TopicDistribution = "distribution_events"
)

// PaymentQueuedEvent 支付进入队列
// Topic: payment_events
type PaymentQueuedEvent struct {
	TransactionID string    `json:"transaction_id"`
	Token         string    `json:"token"`
	Amount        string    `json:"amount"` // Decimal string
	Priority      string    `json:"priority"`
	QueuedAt      time.Time `json:"queued_at"`
}

// PaymentCompletedEvent 支付到达终态 (completed / failed)
// Topic: payment_events
type PaymentCompletedEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Hash          string `json:"hash,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BatchProcessedEvent 支付批次执行完毕
// Topic: payment_events
type BatchProcessedEvent struct {
	BatchID    string `json:"batch_id"`
	Count      int    `json:"count"`
	Status     string `json:"status"`
	TxHash     string `json:"tx_hash,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// FeeCalculatedEvent 费用计算完成 (缓存未命中时才发，命中不重复发)
// Topic: fee_events
type FeeCalculatedEvent struct {
	RequestID     string `json:"request_id"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	Priority      string `json:"priority"`
	TotalFee      string `json:"total_fee"`
	FeePercentage string `json:"fee_percentage"`
}

// FeeCalculationFailedEvent 费用计算失败 (错误同时抛给调用方)
// Topic: fee_events
type FeeCalculationFailedEvent struct {
	RequestID string `json:"request_id"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Priority  string `json:"priority"`
	Error     string `json:"error"`
}

// FeeDistributionQueuedEvent 费用分发入队
// Topic: fee_events
type FeeDistributionQueuedEvent struct {
	RequestID string `json:"request_id"`
	Token     string `json:"token"`
	Count     int    `json:"count"`
	TotalFee  string `json:"total_fee"`
}

// DistributionBatchEvent 分发批次状态变更
// Topic: distribution_events
type DistributionBatchEvent struct {
	BatchID     string `json:"batch_id"`
	Token       string `json:"token"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
	TotalAmount string `json:"total_amount"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	TxHash      string `json:"tx_hash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StakingRewardsEvent 质押奖励分发入队
// Topic: distribution_events
type StakingRewardsEvent struct {
	Stakeholders int    `json:"stakeholders"`
	TotalReward  string `json:"total_reward"`
	Token        string `json:"token"`
}
