package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
)

// Transfer 单个收款方及金额
type Transfer struct {
	To     string
	Amount decimal.Decimal
}

// TransferSpec 一次提交给链上层的批量转账
// Ref 是批次 ID，提交方以它作幂等键；重试以 Ref 重新提交同一批
type TransferSpec struct {
	Ref       string
	Token     model.TokenSpec
	From      string
	Transfers []Transfer
}

// Receipt 提交结果
type Receipt struct {
	TxHash      string
	GasUsed     uint64
	BlockNumber uint64
}

// Submitter 链上提交层 (外部协作方)
// 签名和广播不在本服务内; 核心只把提交当作一个不透明的异步操作,
// 成功 / 失败 / 超时之外不做任何链上终局性假设
type Submitter interface {
	// Submit 提交一批转账，阻塞到拿到交易哈希或出错
	Submit(ctx context.Context, spec TransferSpec) (*Receipt, error)

	// EstimateGas 估算该批转账的 gas 用量
	EstimateGas(ctx context.Context, spec TransferSpec) (uint64, error)

	// SuggestGasPrice 当前建议 gas price (gwei)
	SuggestGasPrice(ctx context.Context) (decimal.Decimal, error)

	// GetBalance 查询账户在某代币上的余额 (最小单位)
	GetBalance(ctx context.Context, account string, token model.TokenSpec) (decimal.Decimal, error)
}
