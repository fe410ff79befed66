package models

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Block 区块数据模型
type Block struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
	// Datetime ISO-8601格式的区块时间
	Datetime        string   `json:"datetime"`
	Miner           string   `json:"miner"`
	Difficulty      *big.Int `json:"difficulty,omitempty"`
	GasLimit        uint64   `json:"gas_limit"`
	GasUsed         uint64   `json:"gas_used"`
	BaseFeePerGas   *big.Int `json:"base_fee_per_gas,omitempty"`
	Size            uint64   `json:"size,omitempty"`
	TxCount         int      `json:"transaction_count"`
	WithdrawalCount int      `json:"withdrawal_count"`

	// 基于区块内交易gas价格的分布统计，单位gwei
	GasPriceMin    float64 `json:"gas_price_min"`
	GasPriceMax    float64 `json:"gas_price_max"`
	GasPriceMean   float64 `json:"gas_price_mean"`
	GasPriceStddev float64 `json:"gas_price_stddev"`
}

// FromEthereumBlock 从以太坊区块转换为内部模型
func (b *Block) FromEthereumBlock(block *types.Block) {
	if block == nil {
		return
	}

	b.Number = block.NumberU64()
	b.Hash = block.Hash().Hex()
	b.ParentHash = block.ParentHash().Hex()
	b.Timestamp = block.Time()
	b.Datetime = time.Unix(int64(block.Time()), 0).UTC().Format(time.RFC3339)
	b.Miner = block.Coinbase().Hex()
	b.Difficulty = block.Difficulty()
	b.GasLimit = block.GasLimit()
	b.GasUsed = block.GasUsed()
	b.BaseFeePerGas = block.BaseFee()
	b.Size = block.Size()
	b.TxCount = len(block.Transactions())
	if block.Withdrawals() != nil {
		b.WithdrawalCount = len(block.Withdrawals())
	}

	b.computeGasPriceStats(block.Transactions())
}

// computeGasPriceStats 计算区块内交易gas价格的最小/最大/均值/标准差
func (b *Block) computeGasPriceStats(txs types.Transactions) {
	if len(txs) == 0 {
		return
	}

	prices := make([]float64, 0, len(txs))
	for _, tx := range txs {
		gwei := new(big.Float).Quo(
			new(big.Float).SetInt(tx.GasPrice()),
			big.NewFloat(1e9),
		)
		p, _ := gwei.Float64()
		prices = append(prices, p)
	}

	min, max, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
		sum += p
	}
	mean := sum / float64(len(prices))

	variance := 0.0
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(prices))

	b.GasPriceMin = min
	b.GasPriceMax = max
	b.GasPriceMean = mean
	b.GasPriceStddev = math.Sqrt(variance)
}
