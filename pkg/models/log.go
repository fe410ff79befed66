package models

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Log 事件日志数据模型
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"transaction_hash"`
	LogIndex    uint     `json:"log_index"`
	Removed     bool     `json:"removed"`
}

// FromEthereumLog 从以太坊日志转换为内部模型
func (l *Log) FromEthereumLog(log *types.Log) {
	if log == nil {
		return
	}

	l.Address = log.Address.Hex()
	l.Topics = make([]string, len(log.Topics))
	for i, topic := range log.Topics {
		l.Topics[i] = topic.Hex()
	}
	l.Data = hexutil.Encode(log.Data)
	l.BlockNumber = log.BlockNumber
	l.TxHash = log.TxHash.Hex()
	l.LogIndex = log.Index
	l.Removed = log.Removed
}
