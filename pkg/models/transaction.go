package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction 交易数据模型
// 合约创建交易的To为零地址哨兵值
type Transaction struct {
	Hash        string   `json:"hash"`
	BlockNumber uint64   `json:"block_number"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       *big.Int `json:"value"`
	Gas         uint64   `json:"gas"`
	GasPrice    *big.Int `json:"gas_price"`
	GasFeeCap   *big.Int `json:"gas_fee_cap,omitempty"`
	GasTipCap   *big.Int `json:"gas_tip_cap,omitempty"`
	Nonce       uint64   `json:"nonce"`
	Input       string   `json:"input"`
	Type        uint8    `json:"type"`
	V           *big.Int `json:"v"`
	R           *big.Int `json:"r"`
	S           *big.Int `json:"s"`
}

// FromEthereumTransaction 从以太坊交易转换为内部模型
func (t *Transaction) FromEthereumTransaction(tx *types.Transaction, blockNumber uint64) {
	if tx == nil {
		return
	}

	t.Hash = tx.Hash().Hex()
	t.BlockNumber = blockNumber

	// 按交易类型选择签名者恢复发送地址
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err == nil {
		t.From = from.Hex()
	}

	if tx.To() != nil {
		t.To = tx.To().Hex()
	} else {
		// 合约创建交易没有接收地址，用零地址占位
		t.To = common.Address{}.Hex()
	}

	t.Value = tx.Value()
	t.Gas = tx.Gas()
	t.GasPrice = tx.GasPrice()
	if tx.Type() != types.LegacyTxType {
		t.GasFeeCap = tx.GasFeeCap()
		t.GasTipCap = tx.GasTipCap()
	}
	t.Nonce = tx.Nonce()
	t.Input = hexutil.Encode(tx.Data())
	t.Type = tx.Type()
	t.V, t.R, t.S = tx.RawSignatureValues()
}
