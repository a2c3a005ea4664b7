package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Priority 支付优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TxStatus 支付交易生命周期状态
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxQueued     TxStatus = "queued"
	TxProcessing TxStatus = "processing"
	TxConfirming TxStatus = "confirming"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
	TxCancelled  TxStatus = "cancelled"
)

// BatchStatus 支付批次状态
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchSubmitted  BatchStatus = "submitted"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// DistributionType 费用分发的四个去向
type DistributionType string

const (
	DistPlatform DistributionType = "platform"
	DistNetwork  DistributionType = "network"
	DistAgent    DistributionType = "agent"
	DistStaking  DistributionType = "staking"
)

// TransferKind 代币转账类型，在配置加载时解析一次
type TransferKind string

const (
	KindNative TransferKind = "native"
	KindERC20  TransferKind = "erc20"
)

// TokenSpec 受支持代币的静态描述
type TokenSpec struct {
	Symbol   string       `json:"symbol"`
	Kind     TransferKind `json:"kind"`
	Contract string       `json:"contract,omitempty"` // erc20 合约地址
	Decimals int32        `json:"decimals"`
}

// PaymentRequest 入队支付请求，创建后不可变
// Amount 为代币最小单位的整数 (decimal string 跨 API 边界)
type PaymentRequest struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
	Priority  Priority        `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
}

// QueueEntry 队列持有的包装，PriorityScore 在 reprioritize 时重算
type QueueEntry struct {
	Request       *PaymentRequest `json:"request"`
	PriorityScore float64         `json:"priority_score"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// PaymentTransaction 支付生命周期记录，仅由 Processor 及链上回调变更
type PaymentTransaction struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Token       string          `json:"token"`
	Priority    Priority        `json:"priority"`
	Status      TxStatus        `json:"status"`
	Hash        string          `json:"hash,omitempty"`
	Fee         decimal.Decimal `json:"fee"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PaymentBatch 一组一起执行的支付请求
type PaymentBatch struct {
	ID              string            `json:"id"`
	Requests        []*PaymentRequest `json:"requests"`
	Status          BatchStatus       `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	TransactionHash string            `json:"transaction_hash,omitempty"`
}

// FeeRatios 四个分桶的固定比例
type FeeRatios struct {
	Platform decimal.Decimal `json:"platform"`
	Network  decimal.Decimal `json:"network"`
	Agent    decimal.Decimal `json:"agent"`
	Staking  decimal.Decimal `json:"staking"`
}

// FeeBreakdown 单笔费用的完整拆分
// 不变式: PlatformFee+NetworkFee+AgentFee+StakingRewards <= TotalFee
// (各桶独立向下取整; 取整余数计入 PlatformFee, 见 FeeCalculator)
type FeeBreakdown struct {
	TotalFee       decimal.Decimal `json:"total_fee"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	NetworkFee     decimal.Decimal `json:"network_fee"`
	AgentFee       decimal.Decimal `json:"agent_fee"`
	StakingRewards decimal.Decimal `json:"staking_rewards"`
	FeePercentage  decimal.Decimal `json:"fee_percentage"` // 实际生效费率
	Dust           decimal.Decimal `json:"dust"`           // 取整余数, 已并入 PlatformFee
	Ratios         FeeRatios       `json:"ratios"`
}

// FeeEstimation 询价结果
type FeeEstimation struct {
	MinFee       decimal.Decimal `json:"min_fee"`
	MaxFee       decimal.Decimal `json:"max_fee"`
	EstimatedFee decimal.Decimal `json:"estimated_fee"`
	Breakdown    *FeeBreakdown   `json:"breakdown"`
}

// FeeDistribution 单个费用桶到单个接收方的一笔支付
type FeeDistribution struct {
	Recipient string           `json:"recipient"`
	Amount    decimal.Decimal  `json:"amount"`
	Type      DistributionType `json:"type"`
	Token     string           `json:"token"`
}

// DistBatchStatus 分发批次状态
type DistBatchStatus string

const (
	DistBatchPending    DistBatchStatus = "pending"
	DistBatchProcessing DistBatchStatus = "processing"
	DistBatchCompleted  DistBatchStatus = "completed"
	DistBatchFailed     DistBatchStatus = "failed"
)

// DistributionBatch 同 (token, type) 分组的一批分发
type DistributionBatch struct {
	ID              string            `json:"id"`
	Token           string            `json:"token"`
	Type            DistributionType  `json:"type"`
	Distributions   []FeeDistribution `json:"distributions"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Status          DistBatchStatus   `json:"status"`
	RetryCount      int               `json:"retry_count"`
	CreatedAt       time.Time         `json:"created_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	TransactionHash string            `json:"transaction_hash,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// DistributionReceipt 分发完成后的审计行，只增不改
// 配置了数据库时同步落库 (审计用)，队列/批次状态仍然只在内存
type DistributionReceipt struct {
	ID              uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchID         string           `gorm:"type:varchar(80);not null;index" json:"batch_id"`
	Recipient       string           `gorm:"type:varchar(128);not null;index" json:"recipient"`
	Amount          decimal.Decimal  `gorm:"type:decimal(38,0);not null" json:"amount"`
	Token           string           `gorm:"type:varchar(16);not null" json:"token"`
	Type            DistributionType `gorm:"type:varchar(16);not null" json:"type"`
	TransactionHash string           `gorm:"type:varchar(80);not null" json:"transaction_hash"`
	Timestamp       time.Time        `gorm:"not null" json:"timestamp"`
	GasUsed         uint64           `json:"gas_used"`
}

// TableName 指定表名
func (DistributionReceipt) TableName() string {
	return "distribution_receipts"
}

// StakingPool 质押池账本
// 不变式: TotalStaked == sum(Stakeholders 的值)
type StakingPool struct {
	Address      string                     `json:"address"`
	TotalStaked  decimal.Decimal            `json:"total_staked"`
	Stakeholders map[string]decimal.Decimal `json:"stakeholders"`
	RewardRate   decimal.Decimal            `json:"reward_rate"`
	LockupPeriod time.Duration              `json:"lockup_period"`
}
